// Package config 负责加载 AgentPair 的运行配置：可选的 JSON 文件、
// 环境变量覆盖以及默认值。
package config
