package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"acme-manager/internal/config"
	"acme-manager/internal/core"
	"acme-manager/internal/daemon"
	"acme-manager/internal/metrics"
)

var (
	configPath   string
	logLevel     string
	revokeReason uint
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "acme-manager",
	Short: "ACME DNS-01 证书自动管理工具",
	Long: `acme-manager 通过 ACME DNS-01 验证签发和续期证书。

验证记录写入已配置的DNS账号 (aliyun, tencent, huawei, rfc2136)，
签发后保存到本地，并可上传到阿里云、腾讯云、华为云证书服务。

不带子命令时检查全部证书并执行一次。`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别，覆盖配置文件 (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(zonesCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(purgeCmd)

	revokeCmd.Flags().UintVar(&revokeReason, "reason", 0, "吊销原因码 (RFC 5280)，例如 1=密钥泄露 4=被替代")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "检查并签发证书（单次运行）",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context())
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "前台守护进程模式（调试用）",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "启动守护进程（后台运行）",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := daemon.NewDaemon(configPath)
		if err := d.Start(); err != nil {
			return fmt.Errorf("启动失败: %w", err)
		}
		if !daemon.IsDaemonized() {
			return nil
		}

		// 后台化的子进程继续执行守护逻辑
		if err := d.WritePid(); err != nil {
			return fmt.Errorf("写入PID失败: %w", err)
		}
		defer d.RemovePid()
		return runDaemon(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "停止守护进程",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.NewDaemon(configPath).Stop(); err != nil {
			return fmt.Errorf("停止失败: %w", err)
		}
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "重启守护进程",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.NewDaemon(configPath).Restart(); err != nil {
			return fmt.Errorf("重启失败: %w", err)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看守护进程状态",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		daemon.NewDaemon(configPath).Status()
	},
}

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "列出每个DNS账号下的Zone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		accounts, err := core.NewFactory(cfg, core.NewRegistry()).BuildAccounts()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tTYPE\tZONE\tAUTHORITATIVE\tSTATUS\tELIGIBLE")
		for _, account := range accounts {
			zones, err := account.DNS.GetZones(ctx)
			if err != nil {
				fmt.Fprintf(w, "%s\t%s\t-\t-\terror: %v\t-\n", account.Name, account.Type, err)
				continue
			}
			for _, z := range zones {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", account.Name, account.Type, z.Name, z.AuthoritativeType, z.Status, z.Eligible())
			}
		}
		return w.Flush()
	},
}

var issueCmd = &cobra.Command{
	Use:   "issue <common-name>",
	Short: "立即签发指定证书，跳过续期检查",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemon.SignalContext(cmd.Context())
		defer cancel()

		manager, err := newManager(ctx)
		if err != nil {
			return err
		}
		return manager.Issue(ctx, args[0])
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <common-name>",
	Short: "吊销本地保存的证书",
	Long: `吊销输出目录中保存的证书。

需要配置 acme.account_key_file，并且是签发该证书时使用的账号密钥。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemon.SignalContext(cmd.Context())
		defer cancel()

		manager, err := newManager(ctx)
		if err != nil {
			return err
		}
		return manager.Revoke(ctx, args[0], revokeReason)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <common-name>",
	Short: "删除证书域名下残留的 _acme-challenge 记录",
	Long: `删除证书全部域名下整个 _acme-challenge TXT 记录集。

用于上次签发被中断后清理残留记录，签发进行中时不要执行。
CNAME 委派的主机名不会被删除。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemon.SignalContext(cmd.Context())
		defer cancel()

		manager, err := newManager(ctx)
		if err != nil {
			return err
		}
		report, err := manager.Purge(ctx, args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "删除 %d, 不存在 %d, 跳过 %d, 失败 %d\n",
			report.Deleted, report.NotFound, report.Skipped, report.Failed)
		return err
	},
}

// loadConfig 加载配置并按配置初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := setupLogging(level, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("无效的日志级别 %q: %w", level, err)
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)
	return nil
}

func newManager(ctx context.Context) (*core.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	manager, err := core.NewManager(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化失败: %w", err)
	}
	return manager, nil
}

func runOnce(parent context.Context) error {
	ctx, cancel := daemon.SignalContext(parent)
	defer cancel()

	manager, err := newManager(ctx)
	if err != nil {
		return err
	}
	return manager.Run(ctx)
}

func runDaemon(parent context.Context) error {
	ctx, cancel := daemon.SignalContext(parent)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manager, err := core.NewManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}

	var current atomic.Pointer[core.Manager]
	current.Store(manager)

	// 配置文件变化后重建管理器，下一次检查生效；检查间隔和指标地址需要重启
	if watcher, err := daemon.NewConfigWatcher(configPath); err != nil {
		log.Warnf("无法监听配置文件，修改配置需要重启: %v", err)
	} else {
		go watcher.Run(ctx, func() {
			manager, err := newManager(ctx)
			if err != nil {
				log.Errorf("重新加载配置失败，继续使用旧配置: %v", err)
				return
			}
			current.Store(manager)
			log.Info("配置已重新加载")
		})
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Errorf("[指标] 服务退出: %v", err)
			}
		}()
	}

	log.Infof("守护进程已启动，PID: %d，检查间隔: %d 小时", os.Getpid(), cfg.CheckInterval)
	daemon.Loop(ctx, time.Duration(cfg.CheckInterval)*time.Hour, func(ctx context.Context) error {
		return current.Load().Run(ctx)
	})
	return nil
}
