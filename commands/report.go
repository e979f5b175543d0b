package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/mteguhsat/aetros-cli/backend"
	"github.com/mteguhsat/aetros-cli/cli"
	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/jobclient"
	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/logging"
	"github.com/mteguhsat/aetros-cli/monitoring"
	"github.com/mteguhsat/aetros-cli/transport/fromconfig"
	"github.com/mteguhsat/aetros-cli/version"
)

type ReportArgs struct {
	Channel string
	Model   string
	Job     string
	Name    string
	Profile bool
	// bounds draining the queues and waiting for the server to close
	ShutdownTimeout time.Duration
}

var reportArgs ReportArgs

var ReportCmd = &cli.Subcommand{
	Use:   "report",
	Short: "send newline-delimited JSON records read from stdin to the trainer",
	Example: `  python train.py | aetros report --model owner/model --job 0123abcd
  aetros report --channel files < records.jsonl`,
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&reportArgs.Channel, "channel", "", "channel to send records on (default: primary channel)")
		f.StringVar(&reportArgs.Model, "model", "", "model name, overrides job.model")
		f.StringVar(&reportArgs.Job, "job", "", "job id, overrides job.id")
		f.StringVar(&reportArgs.Name, "name", "", "worker name, overrides job.name")
		f.BoolVar(&reportArgs.Profile, "profile", false, "write a CPU profile to the working directory")
		f.DurationVar(&reportArgs.ShutdownTimeout, "shutdown-timeout", 5*time.Minute, "how long to wait for queued records to be sent")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		if reportArgs.Profile {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
		}
		return RunReport(ctx, subcommand.Config(), os.Stdin, reportArgs)
	},
}

var errJobAborted = errors.New("job aborted or deleted on the server")

func RunReport(ctx context.Context, conf *config.Config, in io.Reader, args ReportArgs) error {

	outlets, err := logging.OutletsFromConfig(*conf.Global.Logging)
	if err != nil {
		return errors.Wrap(err, "cannot build logging from config")
	}
	logOutlet := monitoring.NewLogOutlet()
	outlets.Add(logOutlet, logger.Debug)
	log := logger.NewLogger(outlets, 1*time.Second)
	ctx = logging.WithSubsystemLoggers(ctx, log)

	provider, err := fromconfig.ProviderFromConfig(conf.Connect)
	if err != nil {
		return errors.Wrap(err, "cannot build transport from config")
	}
	clientConf, err := backend.ConfigFromConfig(conf.Client)
	if err != nil {
		return err
	}

	model, job, name, err := jobIdentity(conf.Job, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	listener := &reportListener{
		log:  logging.LogSubsystem(log, logging.SubsysJob),
		stop: cancel,
	}

	jc, err := jobclient.New(clientConf, provider, listener, logging.LogSubsystem(log, logging.SubsysBackend))
	if err != nil {
		return err
	}
	jc.Configure(model, job, name)

	registry := prometheus.NewRegistry()
	for _, register := range []func(prometheus.Registerer) error{
		jc.RegisterMetrics,
		logOutlet.RegisterMetrics,
		version.PrometheusRegister,
	} {
		if err := register(registry); err != nil {
			return errors.Wrap(err, "cannot register metrics")
		}
	}
	monitoringLog := logging.LogSubsystem(log, logging.SubsysMonitoring)
	if err := monitoring.StartFromConfig(ctx, monitoringLog, conf.Global.Monitoring, registry); err != nil {
		return errors.Wrap(err, "cannot start monitoring")
	}

	if err := jc.Start(ctx); err != nil {
		return err
	}
	defer jc.Close()

	sent, err := pumpRecords(ctx, in, func(rec map[string]interface{}) error {
		return jc.Send(args.Channel, rec)
	})
	log.WithField("records", sent).Info("input done")
	if err != nil && ctx.Err() == nil {
		return err
	}

	if listener.aborted.Load() {
		return errJobAborted
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), args.ShutdownTimeout)
	defer shutdownCancel()
	if err := jc.End(shutdownCtx); err != nil {
		return errors.Wrap(err, "cannot shut down cleanly")
	}
	return nil
}

func jobIdentity(in *config.JobConfig, args ReportArgs) (model, job, name string, err error) {
	if in != nil {
		model, job, name = in.Model, in.ID, in.Name
	}
	if args.Model != "" {
		model = args.Model
	}
	if args.Job != "" {
		job = args.Job
	}
	if args.Name != "" {
		name = args.Name
	}
	if job == "" {
		return "", "", "", errors.New("job id must be set with --job or job.id")
	}
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			return "", "", "", errors.Wrap(err, "cannot determine worker name")
		}
	}
	return model, job, name, nil
}

// pumpRecords sends every JSON object read from in until in is exhausted or
// ctx is done. It returns the number of records handed to send.
func pumpRecords(ctx context.Context, in io.Reader, send func(map[string]interface{}) error) (int, error) {
	type result struct {
		rec map[string]interface{}
		err error
	}
	records := make(chan result)
	go func() {
		defer close(records)
		dec := json.NewDecoder(in)
		for {
			var rec map[string]interface{}
			err := dec.Decode(&rec)
			if err == io.EOF {
				return
			}
			select {
			case records <- result{rec, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var n int
	for {
		select {
		case r, ok := <-records:
			if !ok {
				return n, nil
			}
			if r.err != nil {
				return n, errors.Wrapf(r.err, "cannot decode record #%d", n+1)
			}
			if err := send(r.rec); err != nil {
				return n, errors.Wrapf(err, "cannot send record #%d", n+1)
			}
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

type reportListener struct {
	log     logger.Logger
	stop    context.CancelFunc
	aborted atomic.Bool
}

func (l *reportListener) Fire(ev backend.Event, payload interface{}) {
	log := l.log.WithField("event", string(ev))
	if payload != nil {
		log = log.WithField("payload", payload)
	}
	switch ev {
	case backend.EventStop:
		log.Warn("server requested stop")
		l.stop()
	case backend.EventAborted:
		log.Error("job was aborted")
		l.aborted.Store(true)
		l.stop()
	case backend.EventOffline, backend.EventDisconnect, backend.EventRegistrationFailed:
		log.Warn("connection event")
	default:
		log.Info("event")
	}
}
