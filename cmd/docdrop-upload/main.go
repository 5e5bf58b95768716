// Command docdrop-upload sends files to a docdrop server and queries what was stored.
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

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/transfer"
)

type options struct {
	server    string
	owner     string
	file      string
	kind      string
	mime      string
	chunkSize int64
	threshold int64
	retries   int
	question  string
	list      bool
	remove    string
	log       string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.server, "server", "http://127.0.0.1:8090", "docdrop server base URL")
	flag.StringVar(&o.owner, "owner", "", "caller scope sent as "+tool.OwnerHeader)
	flag.StringVar(&o.file, "file", "", "file to upload")
	flag.StringVar(&o.kind, "type", "", "set to chatgpt to force chat export parsing")
	flag.StringVar(&o.mime, "mime", "", "override the detected MIME type")
	flag.Int64Var(&o.chunkSize, "chunkSize", tool.DefaultChunkSize, "chunk size in bytes")
	flag.Int64Var(&o.threshold, "threshold", tool.DefaultChunkThreshold, "files of at least this many bytes are chunked")
	flag.IntVar(&o.retries, "retries", transfer.DefaultRetryPolicy.MaxAttempts, "attempts per chunk")
	flag.StringVar(&o.question, "query", "", "ask a question over stored files")
	flag.BoolVar(&o.list, "list", false, "list stored files")
	flag.StringVar(&o.remove, "delete", "", "delete the stored file with this id")
	flag.StringVar(&o.log, "log", "prod", "log mode: dev|prod|none")
	flag.Parse()
	return o
}

func main() {
	o := parseFlags()
	tool.InitLogger()
	tool.SetLogMode(o.log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := transfer.NewClient(o.server, o.owner)
	var err error
	switch {
	case o.file != "":
		err = upload(ctx, client, o)
	case o.question != "":
		err = ask(ctx, client, o.question)
	case o.list:
		err = list(ctx, client)
	case o.remove != "":
		err = client.DeleteFile(ctx, o.remove)
		if err == nil {
			tool.DefaultLogger.Infof("[Delete] removed %s", o.remove)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
}

func upload(ctx context.Context, client *transfer.Client, o options) error {
	name, size, mime, err := tool.GetFileInfoFromPath(o.file)
	if err != nil {
		return err
	}
	if o.mime != "" {
		mime = o.mime
	}
	f, err := os.Open(o.file)
	if err != nil {
		return err
	}
	defer f.Close()

	u := transfer.NewUploader(client)
	u.ChunkSize = o.chunkSize
	u.Threshold = o.threshold
	u.Retry.MaxAttempts = o.retries
	u.OnProgress = func(s transfer.Snapshot) {
		eta := "unknown"
		if s.ETAKnown {
			eta = s.ETA.Round(time.Second).String()
		}
		if s.Chunks > 0 {
			tool.DefaultLogger.Infof("[Upload] chunk %d/%d  %.1f%%  %s/s  eta %s", s.Chunk, s.Chunks, s.Percent, humanBytes(s.Throughput), eta)
		} else {
			tool.DefaultLogger.Infof("[Upload] %.1f%%  %s/s", s.Percent, humanBytes(s.Throughput))
		}
	}

	started := time.Now()
	res, err := u.Upload(ctx, transfer.Source{
		Name:   name,
		Type:   mime,
		Kind:   o.kind,
		Size:   size,
		Reader: f,
	})
	if err != nil {
		return err
	}
	tool.DefaultLogger.Infof("[Upload] %s stored as %s (%s) in %s", name, res.FileId, res.Status, time.Since(started).Round(time.Millisecond))
	fmt.Printf("fileId=%s status=%s textExtracted=%t wordCount=%d", res.FileId, res.Status, res.TextExtracted, res.WordCount)
	if res.ConversationCount != nil {
		fmt.Printf(" conversationCount=%d", *res.ConversationCount)
	}
	fmt.Println()
	return nil
}

func ask(ctx context.Context, client *transfer.Client, question string) error {
	ans, err := client.Query(ctx, question)
	if err != nil {
		return err
	}
	fmt.Println(ans.Answer)
	if len(ans.Sources) > 0 {
		fmt.Println()
		for _, s := range ans.Sources {
			fmt.Printf("  %.4f  %s  (%s)\n", s.RelevanceScore, s.FileName, s.FileId)
		}
	}
	fmt.Printf("searched %d file(s)\n", ans.TotalFiles)
	return nil
}

func list(ctx context.Context, client *transfer.Client) error {
	files, err := client.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Printf("%s  %-10s %10s  %s\n", f.ID, f.Status, humanBytes(float64(f.FileSize)), f.FileName)
	}
	if len(files) == 0 {
		fmt.Println("no files stored")
	}
	return nil
}

func humanBytes(n float64) string {
	units := []string{"B", "KiB", "MiB", "GiB"}
	i := 0
	for n >= 1024 && i < len(units)-1 {
		n /= 1024
		i++
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", n), ".0") + " " + units[i]
}
