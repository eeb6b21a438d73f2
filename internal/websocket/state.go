package websocket

// ConnState - состояние WebSocket соединения клиента
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[ConnState][]ConnState{
	StateConnecting: {StateOpen, StateClosing, StateClosed}, // closed при обрыве во время replay
	StateOpen:       {StateClosing, StateClosed},            // closed при обрыве без close frame
	StateClosing:    {StateClosed},
	StateClosed:     {}, // терминальное
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to ConnState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AcceptsMessages - можно ли ставить сообщения в очередь клиента
func (s ConnState) AcceptsMessages() bool {
	return s == StateConnecting || s == StateOpen
}
