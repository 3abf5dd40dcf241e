package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты обработки события (значения метки result).
const (
	resultOK      = "ok"
	resultDropped = "dropped"
	resultError   = "error"
)

// Prometheus метрики Manager
var (
	// eventsTotal — обработанные события по действию и результату.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_events_total",
		Help: "Общее количество обработанных событий Watcher",
	}, []string{"action", "result"})

	// eventDurationSeconds — длительность обработки события.
	eventDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fm_event_duration_seconds",
		Help:    "Длительность обработки события Watcher в секундах",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"action"})

	// importsTotal — импорты из watch-директории по результату.
	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_imports_total",
		Help: "Общее количество импортов из watch-директории",
	}, []string{"result"})

	// managerAlive — 1, если Watcher работает и события обрабатываются.
	managerAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fm_manager_alive",
		Help: "Состояние Manager: 1 — события обрабатываются",
	})
)
