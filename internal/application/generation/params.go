// Package generation 负责把渲染好的消息派发给提供商，并把流式输出聚合为会话状态
package generation

import (
	"fmt"
	"math"

	apperrors "storyforge-api/pkg/errors"
)

const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 2048
)

// Params 生成参数（值对象）
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
}

// Limits 参数上限，来自配置
type Limits struct {
	MaxTemperature float64
	MaxTokens      int
}

// Validate 校验参数范围
func (p Params) Validate(l Limits) error {
	maxTemp := l.MaxTemperature
	if maxTemp <= 0 {
		maxTemp = 2
	}
	if math.IsNaN(p.Temperature) || p.Temperature < 0 || p.Temperature > maxTemp {
		return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("temperature must be between 0 and %g", maxTemp))
	}
	if p.MaxTokens <= 0 {
		return apperrors.ErrInvalidParam.WithDetail("max_tokens must be positive")
	}
	if l.MaxTokens > 0 && p.MaxTokens > l.MaxTokens {
		return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("max_tokens must not exceed %d", l.MaxTokens))
	}
	return nil
}
