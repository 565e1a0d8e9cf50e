// Package statsync は統計スナップショットの定期同期ジョブを提供する。
// アカウント数とプロダクト数をストアから再計算し、外部ツールが参照する
// 設定レコードのスナップショットに書き戻す。
package statsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xrclabs/authd/internal/repository"
)

// SyncJob は統計スナップショットの同期ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な再計算処理を行う。
type SyncJob struct {
	accounts repository.AccountRepository
	configs  repository.ConfigRepository
	logger   *slog.Logger
}

// NewSyncJob は新しいSyncJobを生成する。
func NewSyncJob(accounts repository.AccountRepository, configs repository.ConfigRepository, logger *slog.Logger) *SyncJob {
	return &SyncJob{
		accounts: accounts,
		configs:  configs,
		logger:   logger,
	}
}

// Run は統計を再計算してスナップショットを保存する。
// 冪等: 前回実行から変化がない場合も同じ値を上書きする。
func (j *SyncJob) Run(ctx context.Context) error {
	start := time.Now()

	stats, err := j.accounts.Stats(ctx)
	if err != nil {
		j.logger.Error("統計の再計算に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("統計の再計算に失敗: %w", err)
	}

	if err := j.configs.SaveStatistics(ctx, stats); err != nil {
		j.logger.Error("統計スナップショットの保存に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("統計スナップショットの保存に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("統計同期ジョブが完了しました",
		slog.Int("users", stats.Users),
		slog.Int("products", stats.Products),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔でRunを繰り返すループを開始する。
// ctxのキャンセルで停止する。起動直後に1回実行する。
func (j *SyncJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("統計同期の初回実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("統計同期の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
