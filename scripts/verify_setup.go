package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  intellicrawl 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	// 检查Go版本
	goVersion := runtime.Version()
	fmt.Printf("✅ Go版本: %s\n", goVersion)
	if !strings.HasPrefix(goVersion, "go1.2") {
		fmt.Println("⚠️  警告: 建议使用Go 1.23+版本")
	}

	// 检查操作系统
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 检查浏览器 (无头抓取依赖)
	if path, has := launcher.LookPath(); has {
		fmt.Printf("✅ 浏览器已安装: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到Chrome/Chromium, 首次无头抓取时将自动下载")
	}

	// 检查工作目录可写
	for _, dir := range []string{"sources", "outputs", "history", "logs"} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Printf("❌ 目录不可写: %s (%v)\n", dir, err)
			allOK = false
			continue
		}
		fmt.Printf("✅ 目录就绪: %s\n", dir)
	}

	fmt.Println()
	if allOK {
		fmt.Println("🎉 环境验证通过, 把信息源YAML放入sources/即可开始")
	} else {
		fmt.Println("❌ 环境验证未通过, 请按提示修复后重试")
		os.Exit(1)
	}
}
