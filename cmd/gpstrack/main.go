package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"gpstrack/internal/config"
	"gpstrack/internal/fix"
	"gpstrack/internal/frame"
	"gpstrack/internal/geofence"
	"gpstrack/internal/pipeline"
	"gpstrack/internal/publish"
	"gpstrack/internal/replay"
	"gpstrack/internal/serialsrc"
	"gpstrack/internal/trip"
	"gpstrack/internal/units"
	"gpstrack/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./gpstrack.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}

	configureLogging(cfg.Log)
	log := logrus.StandardLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	unitsSys, err := units.ParseSystem(cfg.Units)
	if err != nil {
		log.Fatalf("units: %v", err)
	}

	pl := pipeline.New(pipeline.Config{
		Framer: frame.Config{MaxBuffer: cfg.Pipeline.MaxBuffer},
		Epoch: fix.Config{
			EpochTimeout:     cfg.Pipeline.EpochTimeout,
			QualityGrace:     cfg.Pipeline.QualityGrace,
			TerminalSentence: cfg.Pipeline.TerminalSentence,
		},
	}, log)

	// The consumer goroutine advances both engines; the status endpoint
	// reads them. One mutex covers both.
	var engineMu sync.Mutex
	var fences *geofence.Engine
	if cfg.Geofence.Enable {
		fences = geofence.New(geofence.Config{
			Zones:        cfg.Geofence.Zones,
			ConfirmCount: cfg.Geofence.ConfirmCount,
		})
		log.WithField("zones", len(cfg.Geofence.Zones)).Info("geofencing enabled")
	}
	var trips *trip.Engine
	if cfg.Trip.Enable {
		trips = trip.New(trip.Config{
			MotionThresholdMps:      cfg.Trip.MotionThresholdMps,
			MotionConfirmCount:      cfg.Trip.MotionConfirmCount,
			IdleTimeout:             cfg.Trip.IdleTimeout,
			HardBrakingMps2:         cfg.Trip.HardBrakingMps2,
			SharpCorneringDegPerSec: cfg.Trip.SharpCorneringDegPerSec,
		})
		log.Info("trip tracking enabled")
	}

	var session *replay.Session
	if cfg.Replay.Enable {
		records, err := replay.Load(cfg.Replay.Path)
		if err != nil {
			log.Fatalf("replay load failed: %v", err)
		}
		session, err = replay.NewSession(records, replay.Config{
			Speed: cfg.Replay.Speed,
			Loop:  cfg.Replay.Loop,
		}, pl)
		if err != nil {
			log.Fatalf("replay session failed: %v", err)
		}
		log.WithFields(logrus.Fields{
			"path":    cfg.Replay.Path,
			"records": len(records),
			"speed":   cfg.Replay.Speed,
		}).Info("replaying recorded log")
	}

	var srv *web.Server
	if cfg.Server.Enable {
		providers := web.Providers{Stats: pl.Stats, Session: session}
		if fences != nil {
			providers.Zones = func() map[string]geofence.State {
				engineMu.Lock()
				defer engineMu.Unlock()
				return fences.States()
			}
		}
		if trips != nil {
			providers.OpenTrip = func() *trip.Trip {
				engineMu.Lock()
				defer engineMu.Unlock()
				return trips.Open()
			}
		}
		srv = web.NewServer(web.Config{Addr: cfg.Server.Addr, Units: unitsSys}, providers, log)
		go func() {
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("http server stopped")
				cancel()
			}
		}()
	}

	var pub *publish.Publisher
	if cfg.MQTT.Enable {
		pub, err = publish.Connect(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, log)
		if err != nil {
			log.Fatalf("mqtt connect failed: %v", err)
		}
		defer pub.Close()
	}

	snapWriter, closeRecorder, err := setupRecorder(cfg.Record, pl, log)
	if err != nil {
		log.Fatalf("recorder setup failed: %v", err)
	}
	defer closeRecorder()

	snaps := pl.Subscribe(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for s := range snaps {
			if srv != nil {
				srv.BroadcastFix(s)
			}
			if pub != nil {
				if err := pub.Fix(s); err != nil {
					log.WithError(err).Warn("publish fix")
				}
			}
			if snapWriter != nil {
				if err := snapWriter.WriteSnapshot(s); err != nil {
					log.WithError(err).Error("record snapshot")
				}
			}

			engineMu.Lock()
			var fenceEvents []geofence.Event
			if fences != nil {
				fenceEvents = fences.Evaluate(s)
			}
			var tripEvents []trip.Event
			if trips != nil {
				tripEvents = trips.Evaluate(s)
			}
			engineMu.Unlock()

			for _, ev := range fenceEvents {
				log.WithFields(logrus.Fields{"zone": ev.Zone, "event": ev.KindName}).Info("geofence transition")
				if srv != nil {
					srv.BroadcastGeofence(ev)
				}
				if pub != nil {
					if err := pub.Geofence(ev); err != nil {
						log.WithError(err).Warn("publish geofence event")
					}
				}
			}
			for _, ev := range tripEvents {
				logTripEvent(log, ev)
				if srv != nil {
					srv.BroadcastTrip(ev)
				}
				if pub != nil {
					if err := pub.Trip(ev); err != nil {
						log.WithError(err).Warn("publish trip event")
					}
				}
			}
		}
	}()

	log.Info("gpstrack starting")
	switch {
	case session != nil:
		err = session.Play(ctx)
		if err == nil && cfg.Server.Enable && ctx.Err() == nil {
			// Keep serving status and the event history after the log ends.
			log.Info("replay finished, serving until interrupted")
			<-ctx.Done()
		}
	default:
		port, serr := serialsrc.Open(serialsrc.Config{Device: cfg.Serial.Device, Baud: cfg.Serial.Baud})
		if serr != nil {
			log.Fatalf("serial open failed: %v", serr)
		}
		log.WithField("device", cfg.Serial.Device).Info("reading from serial port")
		err = pl.Run(ctx, port)
	}
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("pipeline stopped")
	}

	pl.Close()
	wg.Wait()
	log.Info("gpstrack stopped")
}

func logTripEvent(log logrus.FieldLogger, ev trip.Event) {
	entry := log.WithField("event", ev.Kind.String())
	switch ev.Kind {
	case trip.TripEnded:
		if ev.Trip != nil {
			entry = entry.WithFields(logrus.Fields{
				"distance_m":  ev.Trip.DistanceM,
				"duration":    ev.Trip.Duration.Round(time.Second),
				"max_speed":   ev.Trip.MaxSpeedMps,
				"occurrences": len(ev.Trip.Events),
			})
		}
	case trip.HardBraking, trip.SharpCornering:
		if ev.Driving != nil {
			entry = entry.WithField("severity", ev.Driving.Severity)
		}
	}
	entry.Info("trip event")
}

type snapshotWriter interface {
	WriteSnapshot(fix.Snapshot) error
}

// setupRecorder wires the configured capture format: snapshot formats hook
// the consumer loop, the raw format hooks framed text sentences before
// decoding.
func setupRecorder(cfg config.RecordConfig, pl *pipeline.Pipeline, log logrus.FieldLogger) (snapshotWriter, func(), error) {
	if !cfg.Enable {
		return nil, func() {}, nil
	}

	format := cfg.Format
	if format == "" {
		switch strings.ToLower(filepath.Ext(cfg.Path)) {
		case ".jsonl":
			format = "jsonl"
		case ".csv":
			format = "csv"
		default:
			format = "nmea"
		}
	}
	log.WithFields(logrus.Fields{"path": cfg.Path, "format": format}).Info("recording enabled")

	switch format {
	case "jsonl":
		w, err := replay.CreateJSONLWriter(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return w, func() {
			if err := w.Close(); err != nil {
				log.WithError(err).Error("close recorder")
			}
		}, nil
	case "csv":
		w, err := replay.CreateCSVWriter(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return w, func() {
			if err := w.Close(); err != nil {
				log.WithError(err).Error("close recorder")
			}
		}, nil
	default:
		w, err := replay.CreateNMEAWriter(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		pl.OnFrame(func(at time.Time, rf frame.RawFrame) {
			if rf.Dialect != frame.DialectNMEA {
				return
			}
			if err := w.WriteSentence(at, rf.Bytes); err != nil {
				log.WithError(err).Error("record sentence")
			}
		})
		return nil, func() {
			if err := w.Close(); err != nil {
				log.WithError(err).Error("close recorder")
			}
		}, nil
	}
}

func configureLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: false})
	logrus.SetOutput(os.Stdout)

	if cfg.File == "" {
		return
	}
	if dir := filepath.Dir(cfg.File); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	fileFmt := &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	logrus.AddHook(lfshook.NewHook(lfshook.WriterMap{
		logrus.PanicLevel: rotated,
		logrus.FatalLevel: rotated,
		logrus.ErrorLevel: rotated,
		logrus.WarnLevel:  rotated,
		logrus.InfoLevel:  rotated,
		logrus.DebugLevel: rotated,
		logrus.TraceLevel: rotated,
	}, fileFmt))
}
