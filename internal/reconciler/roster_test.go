package reconciler

import (
	"errors"
	"testing"
	"time"

	"wisefido-supervisor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func at(h, m int) time.Time {
	return time.Date(2026, 10, 18, h, m, 0, 0, time.Local)
}

func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }

func newTestRoster(t *testing.T, now time.Time) (*Roster, *[]StatusChange) {
	t.Helper()
	r := NewRoster(0, zap.NewNop())
	var changes []StatusChange
	r.OnStatusChange(func(c StatusChange) { changes = append(changes, c) })
	r.Load([]models.Employee{
		{ID: "E1", Name: "Alice Chen", Department: "Assembly", Position: "Operator"},
		{ID: "E2", Name: "Bob Lin", Department: "Logistics", Position: "Driver"},
	}, nil, now)
	return r, &changes
}

func TestRoster_Load_ClassifiesInitialVitals(t *testing.T) {
	now := at(9, 5)
	r := NewRoster(0, zap.NewNop())
	r.Load([]models.Employee{
		{ID: "E1", Name: "A"},
		{ID: "E2", Name: "B"},
		{ID: "E3", Name: "C"},
		{ID: "E1", Name: "duplicate"},
		{ID: "", Name: "no id"},
	}, map[string]*models.Vital{
		"E1": {Timestamp: at(9, 0), HeartRate: intPtr(70)},
		"E2": {Timestamp: at(8, 0), HeartRate: intPtr(70)},
		"E3": {Timestamp: at(9, 0).AddDate(0, 0, -1), HeartRate: intPtr(70)},
	}, now)

	require.Equal(t, 3, r.Len())

	e1, _ := r.Get("E1")
	assert.Equal(t, "A", e1.Name)
	assert.Equal(t, models.StatusOnline, e1.Status)
	require.NotNil(t, e1.LastSeen)
	assert.Equal(t, at(9, 0), *e1.LastSeen)

	e2, _ := r.Get("E2")
	assert.Equal(t, models.StatusAway, e2.Status)

	// 昨天的快照读数被丢弃
	e3, _ := r.Get("E3")
	assert.Equal(t, models.StatusOffline, e3.Status)
	assert.Nil(t, e3.LatestVital)
	assert.Nil(t, e3.LastSeen)

	ids := []string{}
	for _, e := range r.Employees() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"E1", "E2", "E3"}, ids)
}

func TestRoster_Load_KeepsNewerStreamVital(t *testing.T) {
	r, _ := newTestRoster(t, at(10, 0))
	_, err := r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: at(9, 58), HeartRate: intPtr(90)}}, at(10, 0))
	require.NoError(t, err)

	// 刷新快照带来的是更旧的读数
	r.Load([]models.Employee{{ID: "E1", Name: "Alice Chen"}}, map[string]*models.Vital{
		"E1": {Timestamp: at(9, 30), HeartRate: intPtr(60)},
	}, at(10, 1))

	e1, ok := r.Get("E1")
	require.True(t, ok)
	assert.Equal(t, 90, *e1.LatestVital.HeartRate)
	assert.Equal(t, models.StatusOnline, e1.Status)

	// E2 已被移出
	_, ok = r.Get("E2")
	assert.False(t, ok)
	assert.Empty(t, r.History("E2"))
}

func TestRoster_Apply_MergesPartialUpdate(t *testing.T) {
	now := at(9, 0)
	r, _ := newTestRoster(t, now)

	_, err := r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{
		Timestamp: at(8, 59), HeartRate: intPtr(72), SpO2: intPtr(98), Temperature: floatPtr(36.5),
	}}, now)
	require.NoError(t, err)

	res, err := r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{
		Timestamp: at(9, 0), HeartRate: intPtr(76),
	}}, now)
	require.NoError(t, err)

	v := res.Employee.LatestVital
	require.NotNil(t, v)
	assert.Equal(t, 76, *v.HeartRate)
	assert.Equal(t, 98, *v.SpO2)
	assert.Equal(t, 36.5, *v.Temperature)
	assert.Equal(t, at(9, 0), *res.Employee.LastSeen)
	assert.Len(t, r.History("E1"), 2)
	assert.Equal(t, 76, *r.History("E1")[0].HeartRate)
}

func TestRoster_Apply_Rejections(t *testing.T) {
	now := at(9, 0)
	r, changes := newTestRoster(t, now)

	_, err := r.Apply(models.VitalUpdate{UserID: "ghost", Vital: models.Vital{Timestamp: now}}, now)
	assert.True(t, errors.Is(err, models.ErrUnknownEmployee))
	assert.Equal(t, "unknown_employee", RejectReason(err))

	_, err = r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: now.AddDate(0, 0, -1)}}, now)
	assert.True(t, errors.Is(err, models.ErrStaleVital))

	_, err = r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{}}, now)
	assert.True(t, errors.Is(err, models.ErrInvalidTimestamp))

	_, err = r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: now.Add(time.Hour)}}, now)
	assert.True(t, errors.Is(err, models.ErrInvalidTimestamp))

	_, err = r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: now, HeartRate: intPtr(400)}}, now)
	assert.True(t, errors.Is(err, models.ErrOutOfRange))
	assert.Equal(t, "out_of_range", RejectReason(err))

	e1, _ := r.Get("E1")
	assert.Nil(t, e1.LatestVital)
	assert.Equal(t, models.StatusOffline, e1.Status)
	assert.Empty(t, *changes)
}

func TestRoster_Apply_IdempotentAndNotifiesOnce(t *testing.T) {
	now := at(9, 5)
	r, changes := newTestRoster(t, now)

	update := models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: at(9, 4), HeartRate: intPtr(70)}}

	first, err := r.Apply(update, now)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	snapshot := r.Employees()
	history := r.History("E1")

	second, err := r.Apply(update, now)
	require.NoError(t, err)
	assert.False(t, second.Changed)

	assert.Equal(t, snapshot, r.Employees())
	assert.Equal(t, history, r.History("E1"))
	require.Len(t, *changes, 1)
	assert.Equal(t, StatusChange{EmployeeID: "E1", Name: "Alice Chen", Previous: models.StatusOffline, Current: models.StatusOnline, At: now}, (*changes)[0])
}

func TestRoster_Apply_HealthEscalation(t *testing.T) {
	now := at(14, 0)
	r, changes := newTestRoster(t, now)

	_, err := r.Apply(models.VitalUpdate{UserID: "E2", Vital: models.Vital{Timestamp: now, SpO2: intPtr(97)}}, now)
	require.NoError(t, err)
	res, err := r.Apply(models.VitalUpdate{UserID: "E2", Vital: models.Vital{Timestamp: now.Add(time.Second), FallDetected: boolPtr(true)}}, now)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCritical, res.Employee.Status)
	assert.Equal(t, models.StatusOnline, res.Previous)
	require.Len(t, *changes, 2)
	assert.Equal(t, models.StatusCritical, (*changes)[1].Current)
}

func TestRoster_Recompute_ScenarioA(t *testing.T) {
	r, changes := newTestRoster(t, at(9, 0))
	_, err := r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: at(9, 0), HeartRate: intPtr(70)}}, at(9, 0))
	require.NoError(t, err)

	assert.Equal(t, 0, r.Recompute(at(9, 5)))
	e1, _ := r.Get("E1")
	assert.Equal(t, models.StatusOnline, e1.Status)

	assert.Equal(t, 1, r.Recompute(at(9, 20)))
	e1, _ = r.Get("E1")
	assert.Equal(t, models.StatusAway, e1.Status)

	last := (*changes)[len(*changes)-1]
	assert.Equal(t, models.StatusOnline, last.Previous)
	assert.Equal(t, models.StatusAway, last.Current)

	// 跨过午夜变为 offline
	r.Recompute(time.Date(2026, 10, 19, 0, 0, 1, 0, time.Local))
	e1, _ = r.Get("E1")
	assert.Equal(t, models.StatusOffline, e1.Status)
}

func TestRoster_HistoryWindowIsBounded(t *testing.T) {
	r := NewRoster(3, zap.NewNop())
	r.Load([]models.Employee{{ID: "E1"}}, nil, at(9, 0))

	for i := 0; i < 5; i++ {
		_, err := r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: at(9, i), HeartRate: intPtr(60 + i)}}, at(9, 10))
		require.NoError(t, err)
	}

	h := r.History("E1")
	require.Len(t, h, 3)
	assert.Equal(t, 64, *h[0].HeartRate)
	assert.Equal(t, 63, *h[1].HeartRate)
	assert.Equal(t, 62, *h[2].HeartRate)
}

func TestRoster_SeedHistory(t *testing.T) {
	r := NewRoster(4, zap.NewNop())
	r.Load([]models.Employee{{ID: "E1"}}, nil, at(9, 0))
	_, err := r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: at(9, 0), HeartRate: intPtr(99)}}, at(9, 0))
	require.NoError(t, err)

	err = r.SeedHistory("E1", []models.Vital{
		{Timestamp: at(7, 0), HeartRate: intPtr(70)},
		{Timestamp: at(9, 0), HeartRate: intPtr(1)}, // 与流式读数同一时刻，保留流式的
		{Timestamp: at(8, 0), HeartRate: intPtr(80)},
		{Timestamp: at(6, 0), HeartRate: intPtr(60)},
		{Timestamp: at(5, 0), HeartRate: intPtr(50)},
	})
	require.NoError(t, err)

	h := r.History("E1")
	require.Len(t, h, 4)
	assert.Equal(t, 99, *h[0].HeartRate)
	assert.Equal(t, 80, *h[1].HeartRate)
	assert.Equal(t, 70, *h[2].HeartRate)
	assert.Equal(t, 60, *h[3].HeartRate)

	assert.True(t, errors.Is(r.SeedHistory("ghost", nil), models.ErrUnknownEmployee))
}

func TestRoster_Reset_KeepsIdentity(t *testing.T) {
	now := at(11, 0)
	r, changes := newTestRoster(t, now)
	_, err := r.Apply(models.VitalUpdate{UserID: "E1", Vital: models.Vital{Timestamp: now, HeartRate: intPtr(70)}}, now)
	require.NoError(t, err)
	notified := len(*changes)

	r.Reset()
	r.Reset()

	e1, ok := r.Get("E1")
	require.True(t, ok)
	assert.Equal(t, "Alice Chen", e1.Name)
	assert.Equal(t, "Assembly", e1.Department)
	assert.Nil(t, e1.LatestVital)
	assert.Nil(t, e1.LastSeen)
	assert.Equal(t, models.StatusOffline, e1.Status)
	assert.Empty(t, r.History("E1"))
	assert.Equal(t, notified, len(*changes))
	assert.Equal(t, 2, r.Counts()[models.StatusOffline])
}
