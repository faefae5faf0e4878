// Package builtin 提供演示用的具体处理器与行为：随机双词消息生成、
// "hello" 关键字计数，以及基于代币余额的检查、上报与转账。
package builtin
