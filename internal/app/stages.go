package app

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/pdfrasterflow/internal/notify"
	"github.com/Lllllllleong/pdfrasterflow/internal/raster"
	"github.com/Lllllllleong/pdfrasterflow/internal/remote"
	"github.com/Lllllllleong/pdfrasterflow/internal/services"
)

const (
	StageIngest  = "ingest"
	StageConvert = "convert"
	StagePromote = "promote"
	StageRetain  = "retain"
	StageReport  = "report"
)

func (e *Env) deps() services.Deps {
	return services.Deps{
		Ledger: e.Ledger,
		Layout: e.Layout,
		Log:    e.Log,
		Now:    e.Now,
	}
}

// Ingest fetches the day's PDFs from the configured remote source.
func Ingest(ctx context.Context, env *Env) (interface{}, error) {
	cfg := env.Config.Remote
	if err := env.Config.ValidateRemote(); err != nil {
		return nil, fmt.Errorf("invalid remote configuration: %w", err)
	}
	if cfg.Driver == "local" {
		cfg.Root = resolvePath(env.Layout.Root, cfg.Root)
	}
	source, err := remote.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote source: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			env.Log.Warn().Err(err).Msg("Failed to close remote source.")
		}
	}()

	f, err := services.NewIngestion(env.deps(), source)
	if err != nil {
		return nil, err
	}
	return f.Process(ctx, env.Day)
}

// Convert rasterizes the day's incoming PDFs.
func Convert(ctx context.Context, env *Env) (interface{}, error) {
	f, err := services.NewConversion(env.deps(), services.ConversionConfig{
		DPI:         env.Config.Conversion.DPI,
		JPEGQuality: env.Config.Conversion.JPEGQuality,
	}, raster.NewFitzRasterizer(), raster.NewPDFCPUInspector())
	if err != nil {
		return nil, err
	}
	return f.Process(ctx, env.Day)
}

// Promote archives the day's completed documents.
func Promote(ctx context.Context, env *Env) (interface{}, error) {
	f, err := services.NewPromotion(env.deps(), services.PromotionConfig{
		PurgeStaging: env.Config.Promotion.PurgeStaging,
	})
	if err != nil {
		return nil, err
	}
	return f.Process(ctx, env.Day)
}

// Retain moves archived documents past the retention age into the purge folder.
func Retain(ctx context.Context, env *Env) (interface{}, error) {
	f, err := services.NewRetention(env.deps(), services.RetentionConfig{
		MinAgeDays: env.Config.Retention.MinAgeDays,
		DryRun:     env.DryRun,
	})
	if err != nil {
		return nil, err
	}
	return f.Process(ctx, env.Day)
}

// Report exports the day's ledger activity and mails the summary when mail is enabled.
func Report(ctx context.Context, env *Env) (interface{}, error) {
	var notifier notify.Notifier
	if m := env.Config.Mail; m.Enabled {
		n, err := notify.NewMailNotifier(notify.MailConfig{
			Host:     m.Host,
			Port:     m.Port,
			Sender:   m.Sender,
			Password: m.Password,
			To:       m.Receiver,
			CC:       m.CCList(),
		})
		if err != nil {
			return nil, err
		}
		notifier = n
	}

	if err := env.RunLog.Sync(); err != nil {
		env.Log.Warn().Err(err).Msg("Failed to flush run log before attaching it.")
	}
	f, err := services.NewReporting(env.deps(), services.ReportingConfig{
		Subject:    env.Config.Mail.Subject,
		RunLogPath: env.RunLog.Path(),
	}, notifier)
	if err != nil {
		return nil, err
	}
	return f.Process(ctx, env.Day)
}
