package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// EnvDaemonized 标记进程是否已后台化
	EnvDaemonized = "ACME_MANAGER_DAEMONIZED"

	// DefaultInterval 默认检查间隔
	DefaultInterval = 24 * time.Hour

	stopPollInterval = 100 * time.Millisecond
	stopPolls        = 30
)

var (
	ErrAlreadyRunning = errors.New("守护进程已在运行")
	ErrNotRunning     = errors.New("守护进程未运行")
)

// Daemon 守护进程管理器
// PID 文件和日志文件放在配置文件所在目录
type Daemon struct {
	PidFile    string
	LogFile    string
	ConfigPath string
	Out        io.Writer // 命令行提示输出
}

// NewDaemon 创建守护进程管理器
func NewDaemon(configPath string) *Daemon {
	dir := filepath.Dir(configPath)
	if dir == "." {
		dir, _ = os.Getwd()
	}

	return &Daemon{
		PidFile:    filepath.Join(dir, "acme-manager.pid"),
		LogFile:    filepath.Join(dir, "acme-manager.log"),
		ConfigPath: configPath,
		Out:        os.Stdout,
	}
}

// Start 启动守护进程
// 在已后台化的子进程中返回 nil，由调用方继续执行业务逻辑
func (d *Daemon) Start() error {
	if pid, running := d.IsRunning(); running {
		return fmt.Errorf("%w，PID: %d", ErrAlreadyRunning, pid)
	}
	if IsDaemonized() {
		return nil
	}
	return d.daemonize()
}

// daemonize 以新会话启动子进程，输出重定向到日志文件
func (d *Daemon) daemonize() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	logFile, err := os.OpenFile(d.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("无法打开日志文件 %s: %w", d.LogFile, err)
	}
	defer logFile.Close()

	cmd := exec.Command(executable, "start", "--config", d.ConfigPath)
	cmd.Env = append(os.Environ(), EnvDaemonized+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("启动守护进程失败: %w", err)
	}

	fmt.Fprintf(d.Out, "守护进程已启动，PID: %d\n", cmd.Process.Pid)
	fmt.Fprintf(d.Out, "日志文件: %s\n", d.LogFile)
	fmt.Fprintf(d.Out, "PID文件: %s\n", d.PidFile)
	return nil
}

// Stop 发送 SIGTERM，3 秒内未退出则 SIGKILL
func (d *Daemon) Stop() error {
	pid, running := d.IsRunning()
	if !running {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("找不到进程 %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("发送停止信号失败: %w", err)
	}
	fmt.Fprintf(d.Out, "已发送停止信号到进程 %d\n", pid)

	if d.waitExit() {
		fmt.Fprintln(d.Out, "守护进程已停止")
		return nil
	}

	fmt.Fprintln(d.Out, "进程未响应，尝试强制终止...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("强制终止失败: %w", err)
	}
	d.RemovePid()
	fmt.Fprintln(d.Out, "守护进程已强制停止")
	return nil
}

func (d *Daemon) waitExit() bool {
	for i := 0; i < stopPolls; i++ {
		time.Sleep(stopPollInterval)
		if _, running := d.IsRunning(); !running {
			return true
		}
	}
	return false
}

// Restart 重启守护进程
func (d *Daemon) Restart() error {
	if _, running := d.IsRunning(); running {
		if err := d.Stop(); err != nil {
			return fmt.Errorf("停止守护进程失败: %w", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	return d.Start()
}

// Status 显示守护进程状态
func (d *Daemon) Status() {
	if pid, running := d.IsRunning(); running {
		fmt.Fprintf(d.Out, "守护进程运行中，PID: %d\n", pid)
		fmt.Fprintf(d.Out, "PID文件: %s\n", d.PidFile)
		fmt.Fprintf(d.Out, "日志文件: %s\n", d.LogFile)
		return
	}
	fmt.Fprintln(d.Out, "守护进程未运行")
}

// IsRunning 读取 PID 文件并用信号 0 检查进程是否存在
func (d *Daemon) IsRunning() (int, bool) {
	data, err := os.ReadFile(d.PidFile)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	return pid, process.Signal(syscall.Signal(0)) == nil
}

// WritePid 写入 PID 文件
func (d *Daemon) WritePid() error {
	return os.WriteFile(d.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// RemovePid 删除 PID 文件
func (d *Daemon) RemovePid() {
	_ = os.Remove(d.PidFile)
}

// IsDaemonized 检查当前进程是否是守护进程
func IsDaemonized() bool {
	return os.Getenv(EnvDaemonized) == "1"
}

// Loop 立即执行一次 run，之后每隔 interval 执行，直到 ctx 取消
// 单次出错只记录日志
func Loop(ctx context.Context, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		log.Warnf("检查间隔 %v 无效，使用默认值 %v", interval, DefaultInterval)
		interval = DefaultInterval
	}

	if err := run(ctx); err != nil {
		log.Errorf("运行出错: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("守护进程正在退出...")
			return
		case <-ticker.C:
			log.Info("开始定时检查...")
			if err := run(ctx); err != nil {
				log.Errorf("运行出错: %v", err)
			}
		}
	}
}
