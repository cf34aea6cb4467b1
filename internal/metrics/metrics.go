// Package metrics exposes the engine's Prometheus instrumentation:
//
//   - optimus_decisions_total{kind}      – decisions per cycle (ENTER|CLOSE|ROLL)
//   - optimus_vetoes_total{reason}       – entries blocked after sizing
//   - optimus_gate_failures_total{gate}  – entry gates that stopped an asset
//   - optimus_exits_total{reason}        – closes split by exit reason
//   - optimus_rolls_total                – executed rolls
//   - optimus_open_positions             – open position count (gauge)
//   - optimus_margin_buffer_ratio        – available/used margin buffer (gauge)
//   - optimus_equity_usd                 – marked equity (gauge)
//   - optimus_risk_state{state}          – active FSM state as 0/1 series
//
// Registered in init() and served by the promhttp handler wired in cmd.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimus_decisions_total",
			Help: "Decisions taken, by kind",
		},
		[]string{"kind"},
	)

	vetoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimus_vetoes_total",
			Help: "Entries vetoed after sizing, by reason",
		},
		[]string{"reason"},
	)

	gateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimus_gate_failures_total",
			Help: "Entry gate failures, by gate",
		},
		[]string{"gate"},
	)

	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimus_exits_total",
			Help: "Position closes, by exit reason",
		},
		[]string{"reason"},
	)

	rolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "optimus_rolls_total",
			Help: "Executed leg rolls",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimus_open_positions",
			Help: "Open positions across all underlyings",
		},
	)

	marginBuffer = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimus_margin_buffer_ratio",
			Help: "Margin buffer ratio (available/used)",
		},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimus_equity_usd",
			Help: "Marked portfolio equity in USD",
		},
	)

	// One labeled series per FSM state, flipped 0/1 so dashboards stay simple.
	riskState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optimus_risk_state",
			Help: "Portfolio risk FSM state indicator",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(decisions, vetoes, gateFailures, exits)
	prometheus.MustRegister(rolls, openPositions, marginBuffer, equity, riskState)
}

func IncDecision(kind string)    { decisions.WithLabelValues(kind).Inc() }
func IncVeto(reason string)      { vetoes.WithLabelValues(reason).Inc() }
func IncGateFailure(gate string) { gateFailures.WithLabelValues(gate).Inc() }
func IncExit(reason string)      { exits.WithLabelValues(reason).Inc() }
func IncRoll()                   { rolls.Inc() }

func SetOpenPositions(n int)      { openPositions.Set(float64(n)) }
func SetMarginBuffer(r float64)   { marginBuffer.Set(r) }
func SetEquity(v float64)         { equity.Set(v) }

// SetRiskState flips the labeled series so exactly one reads 1.
func SetRiskState(active string) {
	for _, s := range []string{"NORMAL", "DAY_HALT", "WEEK_HALT", "MONTH_HALT", "CORR_ALERT"} {
		v := 0.0
		if s == active {
			v = 1
		}
		riskState.WithLabelValues(s).Set(v)
	}
}
