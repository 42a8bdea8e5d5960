package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"scicam/camera"
	"scicam/catalog"
	"scicam/config"
	"scicam/notify"
	"scicam/serve"
	"scicam/video"
	"scicam/video/sink"
)

func main() {
	app := &cli.App{
		Name:  "scicam",
		Usage: "scientific camera acquisition, live view and frame recording",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the YAML configuration file.",
			},
			&cli.IntFlag{
				Name:  "port",
				Value: 8080,
				Usage: "Port to host the web frontend.",
			},
			&cli.StringFlag{
				Name:  "save-dir",
				Usage: "Override the configured save directory.",
			},
			&cli.Float64Flag{
				Name:  "sim-fps",
				Usage: "Override the simulated camera frame rate.",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if path := c.String("config"); path != "" {
		if err := config.Load(ctx, path); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		log.Warn("No config file given, using defaults")
		config.Set(config.Default())
	}
	cfg := config.Get()

	savePath := cfg.SavePath
	if p := c.String("save-dir"); p != "" {
		savePath = p
	}
	fs, err := video.NewFilesystem(savePath)
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}

	var cat *catalog.Catalog
	if cfg.DatabasePath != "" {
		cat, err = catalog.Open(cfg.DatabasePath)
		if err != nil {
			log.Errorf("Failed to open catalog, continuing without: %v", err)
			cat = nil
		}
	}

	metrics := video.NewMetrics(prometheus.DefaultRegisterer)
	notifier := &notify.Notifier{}

	if cat != nil {
		subscriber := cfg.PushSubscriber
		if subscriber == "" {
			subscriber = "mailto:ops@localhost"
		}
		wp, err := notify.NewWebPush(cat.DB(), subscriber)
		if err != nil {
			log.Errorf("Failed to set up web push, continuing without: %v", err)
		} else {
			notifier.AddListener(wp)
			wp.RegisterHandlers(http.DefaultServeMux)
		}
	}

	saver := &video.Saver{
		FS:      fs,
		Metrics: metrics,
		OnProgress: func(job *video.SaveJob, written, total int) {
			notifier.SaveProgress(job.Dir(), written, total)
		},
		OnComplete: func(job *video.SaveJob) {
			written, total := job.Progress()
			if cat != nil {
				m := job.Meta()
				if err := cat.Add(&catalog.Recording{
					Directory:    job.Dir(),
					StartedAt:    job.Started(),
					Frames:       total,
					Written:      written,
					Width:        m.Width,
					Height:       m.Height,
					Binning:      m.Binning,
					Bits:         m.Bits,
					ExposureMs:   m.ExposureSec * 1000,
					InternalFPS:  m.InternalFPS,
					ReadoutSpeed: m.ReadoutSpeed,
				}); err != nil {
					log.Errorf("Failed to catalog recording: %v", err)
				}
			}
			notifier.SaveComplete(job.Dir(), written, total)
		},
	}
	buf := video.NewRecordingBuffer(saver)
	buf.Metrics = metrics

	simFPS := cfg.SimFPS
	if f := c.Float64("sim-fps"); f > 0 {
		simFPS = f
	}
	cam := camera.NewSim(camera.SimOptions{
		FPS:       simFPS,
		DropEvery: cfg.SimDropEvery,
	})

	mjpegServer := sink.NewMJPEGServer()
	live := mjpegServer.NewStream(sink.MJPEGID{Name: "live"})
	defer live.Close()

	grabber := video.NewGrabber(cam, live, buf, metrics, video.GrabberOptions{
		DisplayEvery: cfg.DisplayEvery,
		PollTimeout:  cfg.PollTimeout(),
		OnFatal: func(err error) {
			notifier.DeviceLost()
		},
	})
	config.OnReload(func(c *config.Config) {
		grabber.SetDisplayEvery(c.DisplayEvery)
	})

	viewerOnly := false
	if err := cam.InitAndOpen(); err != nil {
		// The host can still browse previous recordings.
		log.Errorf("Camera init failed, running in viewer-only mode: %v", err)
		viewerOnly = true
	}
	defer cam.Cleanup()

	if !viewerOnly {
		res, err := cam.Apply(cfg.Settings())
		switch {
		case err != nil:
			// Hard failure: no device change took effect, streaming is not
			// permitted.
			log.Errorf("Apply failed, not streaming: %v", err)
		default:
			if res.Soft() {
				log.Warnf("Applied with warnings: %v", res.Warning)
			}
			if min, max, err := cam.ExposureBounds(); err == nil {
				log.Infof("Exposure bounds: %v .. %v s", min, max)
			}
			if err := cam.Start(); err != nil {
				log.Errorf("Camera start failed: %v", err)
			} else if err := grabber.Start(); err != nil {
				log.Errorf("Grabber start failed: %v", err)
			}
		}
	}
	defer grabber.Stop()
	defer cam.Stop()

	stats := &serve.StatsServer{Grabber: grabber, Buffer: buf}
	updater := serve.NewStatusUpdater(stats)
	notifier.AddListener(updater)

	rec := &serve.RecordServer{Buffer: buf, Notifier: notifier}
	rec.RegisterHandlers(http.DefaultServeMux)
	http.Handle("/mjpeg", mjpegServer)
	http.Handle("/stats", stats)
	http.Handle("/statsws", updater)
	http.Handle("/capture", &serve.CaptureServer{Grabber: grabber, FS: fs})
	http.Handle("/sessions", &serve.SessionsServer{FS: fs, Catalog: cat})
	http.Handle("/frame", &serve.FrameServer{FS: fs})
	http.Handle("/delete", &serve.DeleteServer{FS: fs, OnDelete: func(name string) {
		if cat != nil {
			// Catalog rows key on the full save directory.
			if err := cat.Delete(filepath.Join(fs.BasePath, name)); err != nil {
				log.Errorf("Failed to remove catalog row: %v", err)
			}
		}
	}})
	http.Handle("/metrics", promhttp.Handler())

	port := c.Int("port")
	go func() {
		log.Infof("Hosting web frontend on port %d", port)
		h := handlers.LoggingHandler(os.Stdout, http.DefaultServeMux)
		log.Error(http.ListenAndServe(fmt.Sprintf(":%d", port), h))
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("Caught signal %v, shutting down", sig)

	// An in-flight save runs to completion before exit.
	if job := buf.LastJob(); job != nil {
		select {
		case <-job.Done():
		default:
			log.Info("Waiting for save job to finish draining")
			job.Wait()
		}
	}
	return nil
}
