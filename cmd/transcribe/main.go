package main

import (
	"errors"
	"os"

	"github.com/fatih/color"
)

// 有片段失败时的退出码，与一般错误区分
const exitPartialFailure = 2

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errPartialFailure) {
			os.Exit(exitPartialFailure)
		}
		color.Red("错误: %v", err)
		os.Exit(1)
	}
}
