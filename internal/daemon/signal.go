package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// SignalContext 返回在 SIGINT/SIGTERM 时取消的 context
// 第二个信号直接退出进程，签发中的清理只等一次
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("收到信号 %v，正在优雅关闭...", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}

		sig := <-sigChan
		log.Errorf("再次收到信号 %v，立即退出", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}
