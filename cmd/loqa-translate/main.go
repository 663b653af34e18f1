package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-translate/internal/config"
)

var version = "0.1.0-dev"

const usage = "expected 'process', 'text', 'languages', 'validate-config' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "process":
		err = runProcess(ctx, os.Args[2:])
	case "text":
		err = runText(ctx, os.Args[2:])
	case "languages":
		err = runLanguages(ctx, os.Args[2:])
	case "validate-config":
		err = runValidateConfig(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serverFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("LOQA_TRANSLATE_SERVER")
	if def == "" {
		def = "http://localhost:8080"
	}
	return fs.String("server", def, "Base URL of the loqa-translated HTTP API")
}

func runProcess(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	server := serverFlag(fs)
	file := fs.String("file", "", "Audio file to translate")
	targets := fs.String("targets", "", "Comma separated target languages")
	source := fs.String("source", "", "Source language hint")
	clone := fs.Bool("clone-voice", false, "Synthesize with the speaker's voice")
	noSynth := fs.Bool("no-synth", false, "Skip speech synthesis")
	outDir := fs.String("out", "", "Directory to download synthesized audio into")
	timeout := fs.Duration("timeout", 3*time.Minute, "Request timeout")
	_ = fs.Parse(args)

	if *file == "" || strings.TrimSpace(*targets) == "" {
		return fmt.Errorf("process requires -file and -targets")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	c := newClient(*server)
	resp, err := c.process(ctx, processInput{
		Filename:   *file,
		Audio:      data,
		Targets:    *targets,
		Source:     *source,
		CloneVoice: *clone,
		Synthesize: !*noSynth,
	})
	if resp != nil {
		printResponse(os.Stdout, resp)
	}
	if err != nil {
		return err
	}
	if *outDir != "" {
		return c.downloadAll(ctx, resp, *outDir, os.Stdout)
	}
	return nil
}

func runText(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("text", flag.ExitOnError)
	server := serverFlag(fs)
	text := fs.String("text", "", "Text to translate")
	source := fs.String("source", "", "Source language")
	targets := fs.String("targets", "", "Comma separated target languages")
	_ = fs.Parse(args)

	if *text == "" || *source == "" || *targets == "" {
		return fmt.Errorf("text requires -text, -source and -targets")
	}
	resp, err := newClient(*server).translate(ctx, *text, *source, splitList(*targets))
	if err != nil {
		return err
	}
	for _, code := range sortedKeys(resp.Translations) {
		o := resp.Translations[code]
		if o.Error != "" {
			fmt.Printf("%s\t%s\t%s\n", code, o.Status, o.Error)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", code, o.Status, o.Text)
	}
	return nil
}

func runLanguages(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("languages", flag.ExitOnError)
	server := serverFlag(fs)
	_ = fs.Parse(args)

	langs, err := newClient(*server).languages(ctx)
	if err != nil {
		return err
	}
	for _, l := range langs {
		fmt.Printf("%s\t%s\n", l.Code, l.Name)
	}
	return nil
}

func runValidateConfig(args []string) error {
	fs := flag.NewFlagSet("validate-config", flag.ExitOnError)
	path := fs.String("config", "loqa-translate.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	fmt.Printf("config valid: stt=%s translate=%s tts=%s artifacts=%s languages=%d\n",
		cfg.STT.Mode, cfg.Translate.Mode, cfg.TTS.Mode, cfg.Artifacts.Backend, len(cfg.Languages.Supported))
	return nil
}
