package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名のメトリクスファミリーを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAccessAttempt_CountsByResult は結果ラベル別にカウントされることを検証する。
func TestRecordAccessAttempt_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAccessAttempt(AccessResultSuccess)
	c.RecordAccessAttempt(AccessResultInvalid)
	c.RecordAccessAttempt(AccessResultInvalid)

	mf := findMetric(t, reg, "birthday_access_attempts_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	if got[AccessResultSuccess] != 1 {
		t.Errorf("success = %v, want 1", got[AccessResultSuccess])
	}
	if got[AccessResultInvalid] != 2 {
		t.Errorf("invalid_credentials = %v, want 2", got[AccessResultInvalid])
	}
}

// TestRecordAccessLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordAccessLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAccessLatency(50 * time.Millisecond)
	c.RecordAccessLatency(150 * time.Millisecond)

	mf := findMetric(t, reg, "birthday_access_verify_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.19 || sum > 0.21 {
		t.Errorf("sample sum = %v, want about 0.2", sum)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別に記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	mf := findMetric(t, reg, "birthday_http_status_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "status_code")] = m.GetCounter().GetValue()
	}
	if got["200"] != 2 || got["401"] != 1 {
		t.Errorf("status counts = %v, want 200:2 401:1", got)
	}
}

// TestRecordRecipientChangeAndStep は操作別・ステップ別カウンタを検証する。
func TestRecordRecipientChangeAndStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRecipientChange("update")
	c.RecordStepTransition("star")
	c.RecordStepTransition("star")

	change := findMetric(t, reg, "birthday_recipient_changes_total")
	if v := change.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("recipient changes = %v, want 1", v)
	}
	step := findMetric(t, reg, "birthday_step_transitions_total")
	if labelValue(step.GetMetric()[0], "step") != "star" || step.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Errorf("unexpected step metric: %v", step.GetMetric()[0])
	}
}

// TestRegisterSubscriberGauge はゲージが関数の戻り値を公開することを検証する。
func TestRegisterSubscriberGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	n := 3.0
	c.RegisterSubscriberGauge(func() float64 { return n })

	mf := findMetric(t, reg, "birthday_realtime_subscribers")
	if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 3 {
		t.Errorf("gauge = %v, want 3", v)
	}
}

func TestRegisterDroppedEventsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RegisterDroppedEventsCounter(func() float64 { return 5 })

	mf := findMetric(t, reg, "birthday_realtime_dropped_events_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 5 {
		t.Errorf("counter = %v, want 5", v)
	}
}

// TestMultipleCollectors_IndependentRegistries は独立したレジストリで重複登録が起きないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordAccessAttempt(AccessResultSuccess)

	families, err := reg2.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "birthday_access_attempts_total" && len(mf.GetMetric()) != 0 {
			t.Error("reg2 should not see counts recorded on reg1")
		}
	}
}
