//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default 默认任务：显示帮助信息
func Default() {
	fmt.Println("kvcache 构建系统")
	fmt.Println("================")
	fmt.Println("可用任务:")
	fmt.Println("  mage build      - 构建 kvcache 命令行")
	fmt.Println("  mage test       - 运行所有测试")
	fmt.Println("  mage race       - 开启竞态检测运行测试")
	fmt.Println("  mage lint       - 运行代码检查")
	fmt.Println("  mage coverage   - 生成测试覆盖率报告")
	fmt.Println("  mage clean      - 清理构建产物")
}

// Build 构建 kvcache 命令行
func Build() error {
	mg.Deps(Clean)

	fmt.Println("🚀 构建 kvcache...")
	output := filepath.Join("./dist", "kvcache")
	if runtime.GOOS == "windows" {
		output += ".exe"
	}

	cmd := exec.Command("go", "build", "-o", output, "./cmd/kvcache")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("构建 kvcache 失败: %v\n输出: %s", err, string(out))
	}

	fmt.Println("✅ 构建完成:", output)
	return nil
}

// Test 运行所有测试
func Test() error {
	fmt.Println("🧪 运行测试...")
	if err := sh.RunV("go", "test", "./...", "-timeout=5m"); err != nil {
		return fmt.Errorf("测试失败: %v", err)
	}
	fmt.Println("✅ 测试通过!")
	return nil
}

// Race 开启竞态检测运行测试
func Race() error {
	fmt.Println("🏁 运行竞态检测...")
	return sh.RunV("go", "test", "-race", "./...", "-timeout=10m")
}

// Clean 清理构建产物
func Clean() error {
	fmt.Println("🧹 清理构建产物...")

	if err := os.MkdirAll("./dist", 0755); err != nil {
		return fmt.Errorf("创建 dist 目录失败: %v", err)
	}

	files, err := filepath.Glob("./dist/*")
	if err != nil {
		return fmt.Errorf("查找文件失败: %v", err)
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			fmt.Printf("警告: 无法删除文件 %s: %v\n", file, err)
		}
	}

	if err := os.RemoveAll("./reports"); err != nil {
		fmt.Printf("警告: 清理报告目录失败: %v\n", err)
	}

	fmt.Println("✅ 清理完成!")
	return nil
}

// Lint 运行 gofmt 和 go vet
func Lint() error {
	fmt.Println("🔍 运行代码检查...")

	out, err := sh.Output("gofmt", "-l", ".")
	if err != nil {
		return fmt.Errorf("gofmt 检查失败: %v", err)
	}
	if out != "" {
		return fmt.Errorf("以下文件需要格式化:\n%s", out)
	}

	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return fmt.Errorf("go vet 失败: %v", err)
	}

	fmt.Println("✅ 代码检查通过!")
	return nil
}

// Coverage 生成测试覆盖率报告
func Coverage() error {
	fmt.Println("📈 生成测试覆盖率报告...")

	if err := os.MkdirAll("./reports", 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %v", err)
	}

	if err := sh.RunV("go", "test", "./pkg/...", "-coverprofile=./reports/coverage.out", "-covermode=atomic"); err != nil {
		return fmt.Errorf("生成覆盖率失败: %v", err)
	}
	if err := sh.Run("go", "tool", "cover", "-html=./reports/coverage.out", "-o", "./reports/coverage.html"); err != nil {
		return fmt.Errorf("生成HTML报告失败: %v", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-func=./reports/coverage.out"); err != nil {
		return fmt.Errorf("显示覆盖率失败: %v", err)
	}

	abs, err := filepath.Abs("./reports/coverage.html")
	if err != nil {
		abs = "./reports/coverage.html"
	}
	fmt.Println("✅ 覆盖率报告生成完成!")
	fmt.Println("   详细报告: file://" + abs)
	return nil
}
