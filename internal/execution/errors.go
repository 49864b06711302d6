package execution

import (
	"fmt"

	"fractrade-executor/internal/action"
)

// ConfigurationError 表示本地缺少执行所需的配置，例如 Hyperliquid 凭证。
type ConfigurationError struct {
	ActionID action.ID
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("execution: %s 无法执行: %s", e.ActionID, e.Reason)
}

// ExecutionError 包装交易所调用失败。
type ExecutionError struct {
	ActionID action.ID
	Symbol   string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: %s %s 失败: %v", e.ActionID, e.Symbol, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
