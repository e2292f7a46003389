package resource

import "testing"

// ─── Parser Tests ────────────────────────────────────────────────────────────

func TestParseCPUStat(t *testing.T) {
	stat := []byte(`cpu  100 0 50 800 50 0 0 0 0 0
cpu0 50 0 25 400 25 0 0 0 0 0
intr 12345
`)
	idle, total, ok := parseCPUStat(stat)
	if !ok {
		t.Fatal("parseCPUStat rejected valid content")
	}
	if idle != 850 {
		t.Errorf("idle = %d, want 850 (idle+iowait)", idle)
	}
	if total != 1000 {
		t.Errorf("total = %d, want 1000", total)
	}
}

func TestParseCPUStat_Malformed(t *testing.T) {
	for name, content := range map[string]string{
		"no cpu line": "intr 1\nctxt 2\n",
		"short line":  "cpu  100 0\n",
		"non-numeric": "cpu  100 0 abc 800\n",
	} {
		if _, _, ok := parseCPUStat([]byte(content)); ok {
			t.Errorf("%s: parseCPUStat accepted %q", name, content)
		}
	}
}

func TestParseMemInfo(t *testing.T) {
	meminfo := []byte(`MemTotal:       16000000 kB
MemFree:         2000000 kB
MemAvailable:    4000000 kB
Buffers:          500000 kB
`)
	pct := parseMemInfo(meminfo)
	if pct != 75 {
		t.Errorf("mem pct = %v, want 75", pct)
	}
}

func TestParseMemInfo_FallsBackToMemFree(t *testing.T) {
	meminfo := []byte(`MemTotal:       10000000 kB
MemFree:         2500000 kB
`)
	pct := parseMemInfo(meminfo)
	if pct != 75 {
		t.Errorf("mem pct = %v, want 75 via MemFree", pct)
	}
}

func TestParseMemInfo_Empty(t *testing.T) {
	if pct := parseMemInfo(nil); pct != 0 {
		t.Errorf("mem pct on empty input = %v, want 0", pct)
	}
}

// ─── Sampler Tests ───────────────────────────────────────────────────────────

func TestSampler_ValuesInRange(t *testing.T) {
	s := NewSampler()
	for i := 0; i < 3; i++ {
		u := s.Sample()
		if u.CPUPct < 0 || u.CPUPct > 100 {
			t.Errorf("sample %d: cpu = %v out of range", i, u.CPUPct)
		}
		if u.MemPct < 0 || u.MemPct > 100 {
			t.Errorf("sample %d: mem = %v out of range", i, u.MemPct)
		}
	}
}

func TestSampler_FirstCPUReadIsZero(t *testing.T) {
	s := NewSampler()
	if u := s.Sample(); u.CPUPct != 0 {
		t.Errorf("first cpu sample = %v, want 0 (no baseline)", u.CPUPct)
	}
}
