package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"card-tracker-go/config"
	"card-tracker-go/gateway"
	"card-tracker-go/infrastructure/logger"
	"card-tracker-go/internal/engine"
	"card-tracker-go/market"
	"card-tracker-go/settings"
)

const (
	msgInvalidLimit     = "Invalid input. Please enter a positive number."
	msgInvalidThreshold = "Invalid input. Please enter a non-negative number."
)

const usage = `usage: fmvctl [-config path] <command> [args]

commands:
  show                     打印当前设置
  set-limit N              设置展示的成交数
  set-threshold K          设置离群阈值（标准差倍数）
  prompt                   交互式设置展示的成交数
  compute -card URL|ID     拉取一次并输出图表 JSON
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli 命令执行环境
type cli struct {
	cfg    config.AppConfig
	store  settings.Store
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fmvctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "configs/config.yaml", "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "加载配置失败: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, closeStore, err := settings.Open(ctx, cfg.Settings.Backend, cfg.Settings.Path, cfg.Settings.Redis)
	if err != nil {
		fmt.Fprintf(stderr, "打开设置存储失败: %v\n", err)
		return 1
	}
	defer closeStore()

	c := &cli{cfg: cfg, store: store, stdin: stdin, stdout: stdout, stderr: stderr}
	return c.dispatch(ctx, rest[0], rest[1:])
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) int {
	switch cmd {
	case "show":
		return c.show(ctx)
	case "set-limit":
		if len(args) != 1 {
			fmt.Fprintln(c.stderr, "usage: fmvctl set-limit N")
			return 2
		}
		return c.setLimit(ctx, args[0])
	case "set-threshold":
		if len(args) != 1 {
			fmt.Fprintln(c.stderr, "usage: fmvctl set-threshold K")
			return 2
		}
		return c.setThreshold(ctx, args[0])
	case "prompt":
		return c.prompt(ctx)
	case "compute":
		return c.compute(ctx, args)
	default:
		fmt.Fprintf(c.stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func (c *cli) current(ctx context.Context) (settings.Settings, error) {
	return settings.Load(ctx, c.store, c.cfg.DefaultSettings())
}

func (c *cli) show(ctx context.Context) int {
	s, err := c.current(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "读取设置失败: %v\n", err)
		return 1
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		fmt.Fprintf(c.stderr, "编码失败: %v\n", err)
		return 1
	}
	c.stdout.Write(out)
	return 0
}

func (c *cli) setLimit(ctx context.Context, raw string) int {
	n, err := settings.ParseTradeLimit(raw)
	if err != nil {
		fmt.Fprintln(c.stderr, msgInvalidLimit)
		return 2
	}
	s, err := c.current(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "读取设置失败: %v\n", err)
		return 1
	}
	s.TradeLimit = n
	if err := settings.Save(ctx, c.store, s); err != nil {
		fmt.Fprintf(c.stderr, "保存设置失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Trades to Show set to %d\n", n)
	return 0
}

func (c *cli) setThreshold(ctx context.Context, raw string) int {
	k, err := settings.ParseThreshold(raw)
	if err != nil {
		fmt.Fprintln(c.stderr, msgInvalidThreshold)
		return 2
	}
	s, err := c.current(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "读取设置失败: %v\n", err)
		return 1
	}
	s.OutlierThreshold = k
	if err := settings.Save(ctx, c.store, s); err != nil {
		fmt.Fprintf(c.stderr, "保存设置失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Outlier threshold set to %s\n", strconv.FormatFloat(k, 'f', -1, 64))
	return 0
}

// prompt 空输入视为取消
func (c *cli) prompt(ctx context.Context) int {
	s, err := c.current(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "读取设置失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Enter the number of trades to show: [%d] ", s.TradeLimit)

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintf(c.stderr, "读取输入失败: %v\n", err)
		return 1
	}
	line = strings.TrimSpace(line)
	if line == "" {
		fmt.Fprintln(c.stdout, "\nCancelled.")
		return 0
	}
	return c.setLimit(ctx, line)
}

func (c *cli) compute(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("compute", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	cardRef := fs.String("card", "", "卡片 URL 或数字 ID")
	season := fs.String("season", "", "赛季，默认取 URL 或配置")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *cardRef == "" {
		fmt.Fprintln(c.stderr, "compute: -card is required")
		return 2
	}

	card, err := market.ParseCardURL(*cardRef, c.cfg.Gateway.DefaultSeason)
	if err != nil {
		card = market.CardRef{ID: *cardRef, Season: c.cfg.Gateway.DefaultSeason}
	}
	if *season != "" {
		card.Season = *season
	}
	if err := card.Validate(); err != nil {
		fmt.Fprintf(c.stderr, "compute: %v\n", err)
		return 2
	}

	s, err := c.current(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "读取设置失败: %v\n", err)
		return 1
	}

	logCfg := c.cfg.Log
	logCfg.Outputs = []string{"stderr"}
	lg, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "创建日志失败: %v\n", err)
		return 1
	}
	defer lg.Close()

	client := &gateway.CardTradesClient{
		BaseURL:    c.cfg.Gateway.BaseURL,
		UserAgent:  c.cfg.Gateway.UserAgent,
		HTTPClient: gateway.NewDefaultHTTPClient(c.cfg.Timeout()),
		Limit:      c.cfg.Gateway.FetchLimit,
	}
	p, err := engine.New(engine.Config{
		Window:      c.cfg.FMV.Window,
		Mode:        c.cfg.EstimatorMode(),
		LabelFormat: c.cfg.FMV.LabelFormat,
		Location:    c.cfg.Location(),
	}, s, engine.Components{Fetcher: client, Logger: lg})
	if err != nil {
		fmt.Fprintf(c.stderr, "compute: %v\n", err)
		return 1
	}

	ch, err := p.Compute(ctx, card, s, "")
	if err != nil {
		fmt.Fprintf(c.stderr, "compute: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ch); err != nil {
		fmt.Fprintf(c.stderr, "compute: %v\n", err)
		return 1
	}
	return 0
}
