// 文件路径: internal/service/errors.go
// 模块说明: 代理服务编排层的错误定义。
package service

import "errors"

var (
	// ErrAlreadyRunning indicates a start while the service is not idle.
	ErrAlreadyRunning = errors.New("service: already running / 服务已在运行")
	// ErrNoProfile indicates a start without a loaded profile.
	ErrNoProfile = errors.New("service: no profile / 未选择配置文件")
	// ErrUnknownMode indicates an unsupported inbound mode.
	ErrUnknownMode = errors.New("service: unknown mode / 未知运行模式")
)

var errCoreUnreachable = errors.New("service: core unreachable / 核心无响应")
