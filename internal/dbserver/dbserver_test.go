package dbserver

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/domain"
)

// fakeKT ведёт себя как ktserver: пишет "listening" в лог, а по SIGINT
// оставляет снимок и "[FINISH]". Снимок содержит прежний снимок плюс
// строку, поэтому видно, что база загружалась.
const fakeKT = `#!/bin/sh
log=""
snap=""
while [ $# -gt 0 ]; do
  case "$1" in
    -log) log="$2"; shift ;;
    -bgs) snap="$2"; shift ;;
  esac
  shift
done
finish() {
  if [ -f "$snap/00000000.ktss" ]; then
    cat "$snap/00000000.ktss" > "$snap/next"
  fi
  echo step >> "$snap/next"
  mv "$snap/next" "$snap/00000000.ktss"
  echo "[FINISH]" >> "$log"
  exit 0
}
trap finish INT
echo "server: listening on port" >> "$log"
while true; do sleep 0.05; done
`

const failingKT = `#!/bin/sh
log=""
while [ $# -gt 0 ]; do
  case "$1" in
    -log) log="$2"; shift ;;
  esac
  shift
done
echo "ERROR: could not bind socket" >> "$log"
sleep 5
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
	path := filepath.Join(t.TempDir(), "ktserver")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestKTCommand(t *testing.T) {
	opts := Options{
		ServerOptions: "-ls -tout 200000 -th 64",
		TuningOptions: "#opts=ls#bnum=30m",
	}
	got := strings.Join(KTCommand(2000, "/tmp/snap", "/tmp/kt.log", opts), " ")
	want := "-port 2000 -ls -tout 200000 -th 64 -bgs /tmp/snap -bgsc lzo -bgsi 1000000 -log /tmp/kt.log :#opts=ls#bnum=30m"
	if got != want {
		t.Errorf("unexpected command:\n got %s\nwant %s", got, want)
	}
}

func TestRedisCommand(t *testing.T) {
	got := RedisCommand(3000, "/tmp/db", Options{ServerOptions: "--appendonly no"})
	if got[0] != "--port" || got[1] != "3000" || got[len(got)-1] != "no" {
		t.Errorf("unexpected command %v", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Set(config.KeyKTTuningOptions, "#bnum=1m")

	kt := OptionsFromConfig(cfg, domain.DatabaseKyotoTycoon)
	if kt.Binary != "ktserver" || kt.TuningOptions != "#bnum=1m" {
		t.Errorf("unexpected kt options %+v", kt)
	}
	rd := OptionsFromConfig(cfg, domain.DatabaseRedis)
	if rd.Binary != "redis-server" || rd.TuningOptions != "" {
		t.Errorf("unexpected redis options %+v", rd)
	}
}

func TestStart_UnsupportedType(t *testing.T) {
	_, err := Start(context.Background(), domain.DbConf{Type: "mongo", Dir: t.TempDir()}, "", Options{})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if !strings.Contains(err.Error(), "mongo") {
		t.Errorf("error should name the type: %v", err)
	}
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port < minPort || port > maxPort {
		t.Errorf("port %d out of range", port)
	}
}

func TestKTServer_StartStop(t *testing.T) {
	bin := writeScript(t, fakeKT)
	opts := Options{Binary: bin, StartTimeout: 10 * time.Second, StopTimeout: 10 * time.Second}

	srv, err := Start(context.Background(), domain.DbConf{Type: domain.DatabaseKyotoTycoon, Dir: t.TempDir()}, "", opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if srv.Conf().Port == 0 || srv.Conf().Host == "" {
		t.Errorf("expected server address, got %+v", srv.Conf())
	}

	snap, err := srv.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if filepath.Base(snap) != KTSnapshotName {
		t.Errorf("unexpected snapshot %s", snap)
	}
}

func TestKTServer_FailureInLog(t *testing.T) {
	bin := writeScript(t, failingKT)
	opts := Options{Binary: bin, StartTimeout: 10 * time.Second}

	_, err := Start(context.Background(), domain.DbConf{Type: domain.DatabaseKyotoTycoon, Dir: t.TempDir()}, "", opts)
	if !errors.Is(err, ErrServerFailed) {
		t.Fatalf("expected ErrServerFailed, got %v", err)
	}
}

func TestService_SnapshotChain(t *testing.T) {
	bin := writeScript(t, fakeKT)

	store, err := artifact.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Set(config.KeyKTBinary, bin)

	svc := NewService(store, cfg, t.TempDir(), nil)
	ctx := context.Background()

	conf := domain.DbConf{Type: domain.DatabaseKyotoTycoon}
	for i := 0; i < 2; i++ {
		running, err := svc.Start(ctx, conf)
		if err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if running.Port == 0 {
			t.Errorf("expected port on start %d", i)
		}
		id, err := svc.Stop(ctx)
		if err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
		conf.SnapshotID = id
	}

	data, err := artifact.ReadAll(ctx, store, conf.SnapshotID)
	if err != nil {
		t.Fatal(err)
	}
	// Второй запуск загрузил снимок первого
	if string(data) != "step\nstep\n" {
		t.Errorf("unexpected snapshot content %q", data)
	}

	if _, err := svc.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}
