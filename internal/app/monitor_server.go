package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/monitor"
	"sniperforge/internal/trade"
)

type tradeIntake struct {
	Wallet             string  `json:"wallet"`
	InputToken         string  `json:"input_token"`
	OutputToken        string  `json:"output_token"`
	Amount             float64 `json:"amount"`
	MaxSlippagePercent float64 `json:"max_slippage_percent"`
	MinProfitThreshold float64 `json:"min_profit_threshold"`
}

func startMonitorServer(ctx context.Context, orch *orchestrator, cfg *config.Config, logger *zap.Logger) error {
	svc := orch.Monitor()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		limit := 200
		if qs := r.URL.Query().Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		trades, err := svc.ListTrades(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, trades, logger)
	})

	mux.HandleFunc("/trade", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}

		var intake tradeIntake
		if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
			http.Error(w, fmt.Sprintf("解析请求失败: %v", err), http.StatusBadRequest)
			return
		}

		if intake.InputToken == "" || intake.OutputToken == "" || intake.Amount <= 0 {
			http.Error(w, "input_token、output_token 与 amount 为必填且 amount 必须为正", http.StatusBadRequest)
			return
		}
		if intake.Wallet == "" {
			intake.Wallet = cfg.Wallet.Address
		}
		if intake.MaxSlippagePercent <= 0 {
			intake.MaxSlippagePercent = cfg.Safety.MaxSlippagePercent
		}
		if intake.MinProfitThreshold <= 0 {
			intake.MinProfitThreshold = cfg.Safety.MinProfitThreshold
		}

		req := trade.NewRequest(
			intake.Wallet,
			intake.InputToken,
			intake.OutputToken,
			intake.Amount,
			intake.MaxSlippagePercent,
			intake.MinProfitThreshold,
		)

		result := orch.Submit(r.Context(), req)
		writeJSON(w, result, logger)
	})

	addr := fmt.Sprintf(":%d", cfg.Monitor.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入监控响应失败", zap.Error(err))
	}
}
