package tcp

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("tcp: transport closed")

	// ErrFrameTooLarge 帧超过上限
	ErrFrameTooLarge = errors.New("tcp: frame too large")

	// ErrAlreadyListening 已经在监听
	ErrAlreadyListening = errors.New("tcp: already listening")

	// ErrNoHandler 未设置入站处理器
	ErrNoHandler = errors.New("tcp: nil query handler")
)
