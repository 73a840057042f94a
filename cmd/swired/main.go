package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/statewire/statewire/persist"
	"github.com/statewire/statewire/sched"
	"github.com/statewire/statewire/sio"
	"github.com/statewire/statewire/state"
	"github.com/statewire/statewire/tools"
	"github.com/statewire/statewire/util"
)

func main() {

	var (
		httpAddr  = flag.String("h", ":8359", "HTTP listen address")
		stateFile = flag.String("s", "swired.state", "state filename")

		checkpointFile = flag.String("d", "", "checkpoint db filename (empty to disable)")
		checkpointCron = flag.String("checkpoint-cron", "@hourly", "checkpoint schedule")
		checkpointKeep = flag.Int("checkpoint-keep", 24, "checkpoints to retain")

		configFile = flag.String("c", "", "YAML tree config (empty for the demo tree)")

		mqBroker = flag.String("mq", "", "MQTT broker URL (empty to disable)")
		mqPrefix = flag.String("mq-prefix", "swired", "MQTT topic prefix")

		listenOnStdin = flag.Bool("I", false, "serve a session on stdin/stdout")
	)

	flag.BoolVar(&util.Logging, "v", false, "log lots of wonderful things")

	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := sched.NewLoop()
	defer loop.Shutdown()
	poller := state.NewPoller(loop)

	var fg *persist.FileGlue
	saver := func() {
		loop.Post(func() {
			if fg == nil {
				return
			}
			if err := fg.Sync(); err != nil {
				log.Printf("save failed: %v", err)
			}
		})
	}

	root, err := BuildRoot(*configFile, saver)
	if err != nil {
		log.Fatal(err)
	}

	{
		errs := make(chan error)
		loop.Post(func() {
			var err error
			fg, err = persist.NewFileGlue(*stateFile, root, state.Snapshot(root, nil), poller, loop)
			errs <- err
		})
		if err := <-errs; err != nil {
			log.Fatal(err)
		}
	}
	defer func() {
		done := make(chan bool)
		loop.Post(func() {
			if err := fg.Close(); err != nil {
				log.Printf("state file close: %v", err)
			}
			close(done)
		})
		<-done
	}()

	if *checkpointFile != "" {
		store, err := persist.OpenCheckpoints(*checkpointFile)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
		errs := make(chan error)
		loop.Post(func() {
			det := persist.NewChangeDetector(root, func() {}, poller)
			_, err := persist.StartCheckpointSchedule(*checkpointCron, store, det, loop, *checkpointKeep)
			errs <- err
		})
		if err := <-errs; err != nil {
			log.Fatal(err)
		}
	}

	StartDemoTicker(ctx, root)

	if *mqBroker != "" {
		cs := sio.NewMQTTCouplings(sio.MQTTOpts{
			Broker:      *mqBroker,
			ClientId:    "swired",
			TopicPrefix: *mqPrefix,
		})
		go func() {
			if err := sio.Serve(ctx, cs, root, "/mq"); err != nil && ctx.Err() == nil {
				log.Printf("MQTT session: %v", err)
			}
		}()
	}

	if *listenOnStdin {
		cs := sio.NewStdio()
		cs.Tags = true
		go func() {
			if err := sio.Serve(ctx, cs, root, "/stdio"); err != nil && ctx.Err() == nil {
				log.Printf("stdio session: %v", err)
			}
			util.Logf("stdin session done")
			cancel()
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/stream/", &sio.WSHandler{Root: root, Prefix: "/stream"})
	mux.HandleFunc("/describe", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tools.RenderDescPage("swired", root, w, nil); err != nil {
			log.Printf("describe render: %v", err)
		}
	})

	log.Printf("swired listening on %s", *httpAddr)
	log.Fatal(http.ListenAndServe(*httpAddr, mux))
}
