// Package tokenizer 提供按模型 BPE 编码计算 token 数的函数。
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// 使用内置的 BPE 文件，避免运行时下载
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// ForModel 返回 model 对应编码的 token 计数函数。特殊 token 按普通文本编码。
func ForModel(model string) (func(string) int, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("无法加载模型 %s 的编码: %w", model, err)
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// Runes 按 Unicode 字符计数，作为无法加载 BPE 时的回退。
func Runes(text string) int {
	return len([]rune(text))
}
