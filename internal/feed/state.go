package feed

// State 为推送连接的生命周期状态。
//
//	Disconnected --Start--> Connecting --握手成功--> Connected
//	Connected --连接断开--> Connecting (等待退避后重连)
//	任意状态 --Stop--> ShuttingDown --接收循环退出--> Disconnected
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
