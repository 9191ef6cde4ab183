package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoanBrand/gopub"
	"github.com/RoanBrand/gopub/internal/config"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

type program struct {
	conf  *config.Config
	stdin bool

	in        io.Reader // lines to publish in stdin mode
	interrupt func()    // stops the service once stdin is drained

	pub    *gopub.Publisher
	cancel context.CancelFunc
	ended  sync.WaitGroup
}

func (p *program) Start(s service.Service) error {
	pub, err := gopub.New(p.conf)
	if err != nil {
		return err
	}
	p.pub = pub

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	log.WithFields(log.Fields{
		"broker":   p.conf.Broker.Address,
		"ClientId": p.conf.Broker.ClientID,
	}).Info("Starting MQTT publisher")

	p.ended.Add(1)
	go func() {
		defer p.ended.Done()
		err := pub.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, gopub.ErrClosed) {
			log.Error(err)
		}
	}()

	if p.conf.Publish.Topic != "" {
		p.ended.Add(1)
		if p.stdin {
			go p.publishLines(ctx)
		} else {
			go p.publishPeriodically(ctx)
		}
	}
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	err := p.pub.Close()
	p.ended.Wait()

	st := p.pub.Stats()
	log.WithFields(log.Fields{
		"published": st.Published,
		"dropped":   st.Dropped,
	}).Info("Stopped MQTT publisher")
	return err
}

// publishPeriodically sends the configured message on every interval.
func (p *program) publishPeriodically(ctx context.Context) {
	defer p.ended.Done()

	t := time.NewTicker(p.conf.PublishInterval())
	defer t.Stop()

	msg := []byte(p.conf.Publish.Message)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.pub.Publish(p.conf.Publish.Topic, msg); err != nil {
				log.WithFields(log.Fields{
					"topic": p.conf.Publish.Topic,
					"err":   err,
				}).Warn("Unable to queue message")
			}
		}
	}
}

// publishLines sends each line read from in. At EOF it waits for the queue to drain
// and then stops the service.
func (p *program) publishLines(ctx context.Context) {
	defer p.ended.Done()

	// The scanner blocks in Read, which ctx cannot interrupt, so it is not waited on.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			log.Error(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				p.drained(ctx)
				return
			}
			if err := p.pub.Publish(p.conf.Publish.Topic, []byte(l)); err != nil {
				log.WithFields(log.Fields{
					"topic": p.conf.Publish.Topic,
					"err":   err,
				}).Warn("Unable to queue message")
			}
		}
	}
}

func (p *program) drained(ctx context.Context) {
	for p.pub.Pending() > 0 || p.pub.IsConnected() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	log.Info("End of input")
	p.interrupt()
}

// interruptSelf signals the process so the service runner calls Stop.
func interruptSelf() {
	proc, err := os.FindProcess(os.Getpid())
	if err == nil {
		err = proc.Signal(os.Interrupt)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	cnfFlag := flag.StringP("config", "c", "", "Path of config file.")
	brokerFlag := flag.StringP("broker", "b", "", "Broker address, host:port or ws://host:port/path.")
	clientFlag := flag.String("client-id", "", "Client identifier sent in CONNECT.")
	topicFlag := flag.StringP("topic", "t", "", "Topic to publish to.")
	msgFlag := flag.StringP("message", "m", "", "Message to publish every interval.")
	intervalFlag := flag.Duration("interval", 0, "Publish interval.")
	stdinFlag := flag.Bool("stdin", false, "Publish each line read from stdin instead of a periodic message.")
	levelFlag := flag.String("log-level", "", "Log level: error, warn, info or debug.")
	flag.Parse()

	ePath, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	eDir, _ := filepath.Split(ePath)

	// Set defaults before config override.
	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
	} else {
		f, err := os.OpenFile(filepath.Join(eDir, "gopub.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		log.SetOutput(f)
	}

	cPath := *cnfFlag
	if cPath == "" {
		if toTry := filepath.Join(eDir, "config.json"); fileExists(toTry) {
			cPath = toTry
		}
	}

	conf, err := config.New(cPath)
	if err != nil {
		log.Fatal(err)
	}
	if cPath != "" {
		log.Infoln("Using config file:", cPath)
	} else {
		log.Infoln("No config file specified or found. Using defaults.")
	}

	if flag.CommandLine.Changed("broker") {
		conf.Broker.Address = *brokerFlag
	}
	if flag.CommandLine.Changed("client-id") {
		conf.Broker.ClientID = *clientFlag
	}
	if flag.CommandLine.Changed("topic") {
		conf.Publish.Topic = *topicFlag
	}
	if flag.CommandLine.Changed("message") {
		conf.Publish.Message = *msgFlag
	}
	if flag.CommandLine.Changed("interval") {
		conf.Publish.IntervalMS = intervalFlag.Milliseconds()
	}
	if flag.CommandLine.Changed("log-level") {
		conf.Log.Level = *levelFlag
	}
	if err := conf.Validate(); err != nil {
		log.Fatal(err)
	}
	if err := gopub.ConfigureLogging(conf.Log); err != nil {
		log.Fatal(err)
	}

	if *stdinFlag && conf.Publish.Topic == "" {
		log.Fatal("--stdin needs a topic")
	}

	prg := program{conf: conf, stdin: *stdinFlag, in: os.Stdin, interrupt: interruptSelf}
	svcConfig := service.Config{
		Name:        "gopub",
		DisplayName: "gopub MQTT publisher",
		Description: "gopub MQTT 3.1 QoS 0 publisher. See https://github.com/RoanBrand/gopub",
	}

	s, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if len(*svcFlag) != 0 {
		err := service.Control(s, *svcFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}

	err = s.Run()
	if err != nil {
		log.Fatal(err)
	}
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
