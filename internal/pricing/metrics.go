package pricing

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/vanir/internal/domain"
)

// Metrics holds Prometheus collectors for the calculation path.
type Metrics struct {
	calculationsTotal   prometheus.Counter
	zeroPriceTotal      prometheus.Counter
	rulesAppliedTotal   prometheus.Counter
	uomConversionsTotal prometheus.Counter
}

// NewMetrics creates and registers engine metrics.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vanir"
	}

	m := &Metrics{
		calculationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_calculations_total",
			Help:      "Total number of price calculations",
		}),
		zeroPriceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_calculations_no_price_total",
			Help:      "Calculations that found no matching price-list tier",
		}),
		rulesAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_rules_applied_total",
			Help:      "Total number of pricing rules applied across all calculations",
		}),
		uomConversionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uom_conversions_total",
			Help:      "Calculations whose price was converted between units of measure",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.calculationsTotal, m.zeroPriceTotal, m.rulesAppliedTotal, m.uomConversionsTotal)
	}

	return m
}

func (m *Metrics) observeCalculation(result *domain.PriceResult) {
	m.calculationsTotal.Inc()
	if !result.BasePriceFound {
		m.zeroPriceTotal.Inc()
	}
	if n := len(result.AppliedRules); n > 0 {
		m.rulesAppliedTotal.Add(float64(n))
	}
	if result.UoMConversion.Applied {
		m.uomConversionsTotal.Inc()
	}
}
