package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"card-tracker-go/config"
	"card-tracker-go/infrastructure/logger"
	"card-tracker-go/settings"
)

const tradesXML = `<CARDS><TRADES>
<TRADE><BUYER>a</BUYER><PRICE>2.00</PRICE><SELLER>b</SELLER><TIMESTAMP>1700000200</TIMESTAMP></TRADE>
<TRADE><BUYER>a</BUYER><PRICE></PRICE><SELLER>b</SELLER><TIMESTAMP>1700000150</TIMESTAMP></TRADE>
<TRADE><BUYER>a</BUYER><PRICE>1.00</PRICE><SELLER>b</SELLER><TIMESTAMP>1700000100</TIMESTAMP></TRADE>
</TRADES></CARDS>`

func testConfig(t *testing.T, upstream string) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.BaseURL = upstream
	cfg.Gateway.UserAgent = "card-tracker tests"
	cfg.Gateway.Rate = 100
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.MetricsAddr = ""
	cfg.Log = logger.Config{Level: "error", Outputs: []string{"stderr"}, Format: "json"}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func upstreamServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, tradesXML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestContainerEndToEnd(t *testing.T) {
	up := upstreamServer(t)
	c := NewFromConfig(testConfig(t, up.URL))
	ctx := context.Background()

	require.NoError(t, c.Build(ctx))
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	assert.NoError(t, c.HealthCheck())

	require.NoError(t, c.Track("https://www.nationstates.net/page=deck/card=555/season=3"))
	c.Pipeline().Wait()

	chart, ok := c.server.Latest()
	require.True(t, ok)
	assert.Equal(t, "555", chart.Card.ID)
	assert.Equal(t, []float64{1, 2}, chart.Prices)
	assert.Equal(t, int64(1), c.Pipeline().Stats().Rendered)
}

func TestContainerTrackPlainID(t *testing.T) {
	up := upstreamServer(t)
	c := NewFromConfig(testConfig(t, up.URL))
	require.NoError(t, c.Build(context.Background()))

	require.NoError(t, c.Track("42"))
	assert.Equal(t, "42", c.Pipeline().Card().ID)
	assert.Equal(t, "3", c.Pipeline().Card().Season)
	assert.Error(t, c.Track("not-a-card"))
}

func TestContainerFileBackendHotReload(t *testing.T) {
	up := upstreamServer(t)
	cfg := testConfig(t, up.URL)
	cfg.Settings.Backend = settings.BackendFile
	cfg.Settings.Path = filepath.Join(t.TempDir(), "state", "settings.yaml")
	cfg.Settings.CooldownMs = 50

	c := NewFromConfig(cfg)
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	// 另一个进程（如 fmvctl）写入设置文件
	want := settings.Settings{TradeLimit: 7, OutlierThreshold: 0.5}
	require.NoError(t, settings.Save(ctx, settings.NewFileStore(cfg.Settings.Path), want))

	assert.Eventually(t, func() bool {
		return c.Pipeline().Settings() == want
	}, 3*time.Second, 20*time.Millisecond)
}

func TestContainerBuildFailsOnUnknownBackend(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Settings.Backend = "etcd"
	c := NewFromConfig(cfg)
	err := c.Build(context.Background())
	assert.ErrorIs(t, err, settings.ErrUnknownBackend)
}

type fakeComponent struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeComponent) Start(ctx context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop() error {
	*f.events = append(*f.events, "stop:"+f.name)
	return nil
}

func (f *fakeComponent) Health() error { return nil }

func TestLifecycleRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", events: &events})
	m.Register(&fakeComponent{name: "b", events: &events})
	m.Register(&fakeComponent{name: "c", startErr: errors.New("boom"), events: &events})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:b", "stop:a"}, events)
}

func TestBackgroundComponent(t *testing.T) {
	b := &backgroundComponent{
		name:   "loop",
		logger: logger.NewNop(),
		run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	assert.Error(t, b.Health())
	require.NoError(t, b.Start(context.Background()))
	assert.NoError(t, b.Health())
	require.NoError(t, b.Stop())
	assert.NoError(t, b.Stop())
}

func TestBackgroundComponentReportsFailure(t *testing.T) {
	b := &backgroundComponent{
		name:   "broken",
		logger: logger.NewNop(),
		run:    func(ctx context.Context) error { return fmt.Errorf("redis down") },
	}
	require.NoError(t, b.Start(context.Background()))
	assert.Eventually(t, func() bool {
		err := b.Health()
		return err != nil && strings.Contains(err.Error(), "redis down")
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, b.Stop())
}

func TestHTTPServerComponentStartStop(t *testing.T) {
	first := &httpServerComponent{name: "first", handler: http.NotFoundHandler(), addr: "127.0.0.1:0", logger: logger.NewNop()}
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop()
	assert.NoError(t, first.Health())
}
