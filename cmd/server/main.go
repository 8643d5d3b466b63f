// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/TomatoTown/internal/app"
	"github.com/Corphon/TomatoTown/internal/config"
)

func main() {
	log.Println("🍅 启动 Albino Tomato Town 服务器...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s，存档: %s/%s", cfg.Port, cfg.StorageDriver, cfg.SaveSlot)

	// 2. 创建必要的目录
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("创建目录失败: %v", err)
	}

	// 3. 装配服务
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	if cfg.LLM.RemoteConfigured() {
		log.Printf("✅ 远程对话接口已配置，模型: %s", cfg.LLM.Model)
	} else {
		log.Println("⚠️ 未配置远程对话接口，角色将使用本地回复")
	}

	// 4. 运行直到收到中断信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Printf("❌ 服务器异常退出: %v", err)
		stop()
		os.Exit(1)
	}
	log.Println("✅ 服务器已关闭")
}
