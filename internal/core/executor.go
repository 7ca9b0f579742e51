package core

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Executor 后置命令执行器
// 变量既替换到命令文本中的 ${NAME}，也作为环境变量传给命令
type Executor struct {
	shell string
}

// NewExecutor 创建执行器
func NewExecutor() *Executor {
	return &Executor{shell: "sh"}
}

// Expand 替换命令中的 ${NAME} 变量，未知变量保持原样
func (e *Executor) Expand(command string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	// 长名字优先，避免 ${CERT_DIR} 与前缀相同的变量互相干扰
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "${"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(command)
}

// RunPostCommand 执行后置命令，ctx 取消时终止子进程
func (e *Executor) RunPostCommand(ctx context.Context, command string, vars map[string]string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}

	command = e.Expand(command, vars)
	logger := log.WithField("command", command)
	logger.Info("执行后置命令")

	cmd := exec.CommandContext(ctx, e.shell, "-c", command)
	cmd.Env = os.Environ()
	for k, v := range vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		logger.Infof("命令输出:\n%s", strings.TrimRight(string(output), "\n"))
	}
	if err != nil {
		return fmt.Errorf("执行后置命令失败: %w", err)
	}

	logger.Info("后置命令执行成功")
	return nil
}

// BuildVars 构建后置命令可用的变量
func (e *Executor) BuildVars(domain, certDir, certFile, keyFile, chainFile, fullchainFile string) map[string]string {
	return map[string]string{
		"DOMAIN":         domain,
		"CERT_DIR":       certDir,
		"CERT_FILE":      certFile,
		"KEY_FILE":       keyFile,
		"CHAIN_FILE":     chainFile,
		"FULLCHAIN_FILE": fullchainFile,
	}
}
