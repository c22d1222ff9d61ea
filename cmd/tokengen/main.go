// Command tokengen 为 API 调用方签发 JWT 访问令牌。
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"db-chat-go/internal/config"
	"db-chat-go/pkg/token"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type tokenOptions struct {
	configPath  string
	secret      string
	username    string
	role        string
	expireHours int
}

func newRootCmd() *cobra.Command {
	opts := tokenOptions{}
	cmd := &cobra.Command{
		Use:          "tokengen",
		Short:        "Issue a signed access token for the db-chat API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := issue(opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "./configs/config.yaml", "配置文件路径，未指定 --secret 时从中读取 jwt 配置")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "签名密钥，覆盖配置文件")
	cmd.Flags().StringVar(&opts.username, "username", "", "令牌主体")
	cmd.Flags().StringVar(&opts.role, "role", "USER", "角色，ADMIN 可管理快照")
	cmd.Flags().IntVar(&opts.expireHours, "expire-hours", 0, "有效期(小时)，0 使用配置值")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func issue(opts tokenOptions) (string, error) {
	secret, hours := opts.secret, opts.expireHours
	if secret == "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return "", err
		}
		secret = cfg.JWT.Secret
		if hours <= 0 {
			hours = cfg.JWT.AccessTokenExpireHours
		}
	}
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if hours <= 0 {
		hours = 24
	}
	return token.NewJWTManager(secret, hours).GenerateToken(opts.username, opts.role)
}
