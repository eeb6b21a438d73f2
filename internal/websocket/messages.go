package websocket

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"dexarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// marshal сериализует сообщение в новый слайс без trailing newline
func marshal(message interface{}) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		return nil, err
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// EncodeUpdate проверяет payload и собирает кадр tokenMeta.update
//
// Невалидный payload возвращает ошибку, обёрнутую в models.ErrInvalidUpdate.
func EncodeUpdate(payload models.TokenMetaPayload, at time.Time) ([]byte, error) {
	update := models.NewTokenMetaUpdate(payload, at)
	if err := update.Validate(); err != nil {
		return nil, err
	}
	data, err := marshal(&update)
	if err != nil {
		return nil, fmt.Errorf("marshal tokenMeta.update: %w", err)
	}
	return data, nil
}

// EncodeDecision собирает кадр arb.decision
func EncodeDecision(d models.Decision, at time.Time) ([]byte, error) {
	msg := models.NewDecisionMessage(d, at)
	data, err := marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("marshal arb.decision: %w", err)
	}
	return data, nil
}
