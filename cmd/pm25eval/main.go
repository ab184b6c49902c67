package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/location"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metrics"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	Globals

	Run     RunCmd     `cmd:"" help:"Evaluate every source for one location over a date range."`
	Batch   BatchCmd   `cmd:"" help:"Run every experiment listed in a batch file."`
	Summary SummaryCmd `cmd:"" help:"Print smoke-day confusion matrices from stored results."`
	Locate  LocateCmd  `cmd:"" help:"Resolve a location name against the census gazetteer."`
	Health  HealthCmd  `cmd:"" help:"Report source fetch outcomes and the last experiment run from the ledger."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("pm25eval"),
		kong.Description("Scores PM2.5 forecasts against AirNow monitor readings."),
		kong.UsageOnError(),
		kong.Vars{"gazetteer_base": location.GazetteerBase},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := kctx.Run(&cli.Globals)

	if cli.MetricsFile != "" {
		if werr := metrics.WriteTextfile(cli.MetricsFile); werr != nil {
			log.Printf("metrics: write %s: %v", cli.MetricsFile, werr)
		}
	}
	kctx.FatalIfErrorf(err)
}
