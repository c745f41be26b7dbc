package cmd

import (
	"context"
	"os"

	"github.com/furisto/batchinfer/shared"
	"github.com/furisto/batchinfer/shared/config"
	"github.com/spf13/afero"
)

type ContextKey string

const (
	ContextKeyFileSystem      ContextKey = "filesystem"
	ContextKeyUserInfo        ContextKey = "user_info"
	ContextKeyOutputRenderer  ContextKey = "output_renderer"
	ContextKeyDisableFileLogs ContextKey = "disable_file_logs"
	ContextKeyConfig          ContextKey = "config"
	ContextKeyLookupEnv       ContextKey = "lookup_env"
)

func getFileSystem(ctx context.Context) *afero.Afero {
	if fs, ok := ctx.Value(ContextKeyFileSystem).(*afero.Afero); ok && fs != nil {
		return fs
	}
	return &afero.Afero{Fs: afero.NewOsFs()}
}

func getUserInfo(ctx context.Context) shared.UserInfo {
	if userInfo, ok := ctx.Value(ContextKeyUserInfo).(shared.UserInfo); ok && userInfo != nil {
		return userInfo
	}
	return shared.NewDefaultUserInfo(getFileSystem(ctx))
}

func getRenderer(ctx context.Context) OutputRenderer {
	if renderer, ok := ctx.Value(ContextKeyOutputRenderer).(OutputRenderer); ok && renderer != nil {
		return renderer
	}
	return &DefaultRenderer{}
}

func getLookupEnv(ctx context.Context) config.LookupEnv {
	if lookupEnv, ok := ctx.Value(ContextKeyLookupEnv).(config.LookupEnv); ok && lookupEnv != nil {
		return lookupEnv
	}
	return os.LookupEnv
}

func setConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, ContextKeyConfig, cfg)
}

func getConfig(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(ContextKeyConfig).(*config.Config); ok && cfg != nil {
		return cfg
	}
	return config.Default()
}
