package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	TokenOps         *prometheus.CounterVec
	OTPVerifications *prometheus.CounterVec
	Logins           *prometheus.CounterVec
	SweptRecords     *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TokenOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_operations_total",
				Help: "Refresh token operations by outcome.",
			},
			[]string{"operation", "result"},
		),
		OTPVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_otp_verifications_total",
				Help: "OTP verification attempts by outcome.",
			},
			[]string{"purpose", "result"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"result"},
		),
		SweptRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_swept_records_total",
				Help: "Expired records deleted by the maintenance sweep.",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(m.TokenOps, m.OTPVerifications, m.Logins, m.SweptRecords)
	return m
}

func (m *Metrics) tokenOp(op, result string) {
	if m != nil {
		m.TokenOps.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) otpResult(purpose, result string) {
	if m != nil {
		m.OTPVerifications.WithLabelValues(purpose, result).Inc()
	}
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) swept(kind string, n int64) {
	if m != nil && n > 0 {
		m.SweptRecords.WithLabelValues(kind).Add(float64(n))
	}
}
