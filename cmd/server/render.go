package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/koios/countdown-renderer/internal/config"
	"github.com/koios/countdown-renderer/internal/engine"
	"github.com/koios/countdown-renderer/internal/frame"
	"github.com/koios/countdown-renderer/internal/handlers"
	"github.com/koios/countdown-renderer/internal/oneshot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	renderDate        string
	renderOut         string
	renderSize        string
	renderButtonColor string
	renderTextColor   string
	renderBackground  string
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a single countdown image to a file and exit",
		RunE:  runRender,
	}

	cmd.Flags().StringVar(&renderDate, "date", "", "target date (ISO 8601, default now + 24h)")
	cmd.Flags().StringVar(&renderOut, "out", "timer.png", "output PNG path")
	cmd.Flags().StringVar(&renderSize, "size", "", "box size: small, medium, large, x-large")
	cmd.Flags().StringVar(&renderButtonColor, "button-color", "", "box color (#RGB or #RRGGBB)")
	cmd.Flags().StringVar(&renderTextColor, "color", "", "text color (#RGB or #RRGGBB)")
	cmd.Flags().StringVar(&renderBackground, "background", "", "page background color or transparent")

	return cmd
}

func runRender(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	values := url.Values{}
	setIf := func(key, value string) {
		if value != "" {
			values.Set(key, value)
		}
	}
	setIf(handlers.ParamDate, renderDate)
	setIf(handlers.ParamSize, renderSize)
	setIf(handlers.ParamButtonColor, renderButtonColor)
	setIf(handlers.ParamColor, renderTextColor)
	setIf(handlers.ParamBackground, renderBackground)

	patch, validationErrs := handlers.ParsePatch(values)
	if len(validationErrs) > 0 {
		errs := make([]error, len(validationErrs))
		for i, e := range validationErrs {
			errs[i] = e
		}
		return errors.Join(errs...)
	}

	ctx := cmd.Context()
	eng := engine.NewChrome(ctx, engine.ChromeOptions{
		Width:       cfg.Render.ViewportWidth,
		Height:      cfg.Render.ViewportHeight,
		LoadTimeout: cfg.Render.LoadTimeout,
		ExecPath:    cfg.Render.ChromePath,
	}, logger)

	generator := oneshot.NewGenerator(eng, "", logger)
	defer generator.Close()

	png, err := generator.Render(ctx, patch)
	if err != nil {
		return fmt.Errorf("failed to render countdown image: %w", err)
	}

	if err := frame.WriteFileAtomic(renderOut, png); err != nil {
		return err
	}

	logger.Info("Countdown image written",
		zap.String("path", renderOut),
		zap.Int("size_bytes", len(png)))
	return nil
}
