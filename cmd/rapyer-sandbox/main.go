// Command rapyer-sandbox is a keyspace playground for poking at a rapyer
// document store from the shell. It speaks to whatever backend the
// RAPYER_RUNTIME_MODE / RAPYER_REDIS_URL environment selects, so the same
// invocations work against a live Redis or the in-memory mock.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/oklog/ulid/v2"

	"github.com/yedidyakfir/rapyer-sub000/pkg/rapyer"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

const sandboxVersion = "0.1.0"

var out = log.New(os.Stdout, "", 0)

func main() {
	usage := `rapyer keyspace sandbox.

Backend selection comes from the environment:
    RAPYER_RUNTIME_MODE   auto | redis | mock (default auto)
    RAPYER_REDIS_URL      redis://... when mode is redis

Usage:
    rapyer-sandbox keys [--prefix=<prefix>]
    rapyer-sandbox get <key> [--path=<path>]
    rapyer-sandbox set <key> <json> [--path=<path>]
    rapyer-sandbox del <key>
    rapyer-sandbox incr <key> <path> <delta>
    rapyer-sandbox lock <key> <action> [--ttl=<ttl>] [--hold=<hold>]

Options:
    -h --help            Show this screen.
    --version            Show version.
    --prefix=<prefix>    Only list keys with this prefix.
    --path=<path>        JSONPath within the document [default: $].
    --ttl=<ttl>          Lock expiry [default: 30s].
    --hold=<hold>        How long to hold the lock before releasing [default: 5s].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], sandboxVersion)
	if err != nil {
		log.Fatalf("parse args: %v", err)
	}

	cli, mode, err := rapyer.NewFromEnv()
	if err != nil {
		log.Fatalf("select backend: %v", err)
	}
	log.Printf("rapyer-sandbox using %s backend", mode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	backend := cli.Backend()

	switch {
	case command(opts, "keys"):
		prefix, _ := opts.String("--prefix")
		keys, err := backend.Keys(ctx, prefix)
		if err != nil {
			log.Fatalf("keys: %v", err)
		}
		for _, k := range keys {
			out.Println(k)
		}

	case command(opts, "get"):
		key, _ := opts.String("<key>")
		path, _ := opts.String("--path")
		var data []byte
		if path == "$" {
			data, err = backend.GetDoc(ctx, key)
		} else {
			data, err = backend.GetPath(ctx, key, path)
		}
		if err != nil {
			log.Fatalf("get %s: %v", key, err)
		}
		out.Println(string(data))

	case command(opts, "set"):
		key, _ := opts.String("<key>")
		raw, _ := opts.String("<json>")
		path, _ := opts.String("--path")
		if !json.Valid([]byte(raw)) {
			log.Fatalf("set %s: value is not valid JSON", key)
		}
		err := backend.Apply(ctx, store.Command{
			Op:   store.OpSet,
			Key:  key,
			Path: path,
			Args: [][]byte{[]byte(raw)},
		})
		if err != nil {
			log.Fatalf("set %s: %v", key, err)
		}
		out.Println("OK")

	case command(opts, "del"):
		key, _ := opts.String("<key>")
		err := backend.Apply(ctx, store.Command{Op: store.OpDelDoc, Key: key})
		if err != nil {
			log.Fatalf("del %s: %v", key, err)
		}
		out.Println("OK")

	case command(opts, "incr"):
		key, _ := opts.String("<key>")
		path, _ := opts.String("<path>")
		delta, err := opts.Float64("<delta>")
		if err != nil {
			log.Fatalf("incr: bad delta: %v", err)
		}
		n, err := backend.IncrBy(ctx, key, path, delta)
		if err != nil {
			log.Fatalf("incr %s %s: %v", key, path, err)
		}
		out.Println(n)

	case command(opts, "lock"):
		key, _ := opts.String("<key>")
		action, _ := opts.String("<action>")
		ttl := durationOpt(opts, "--ttl")
		hold := durationOpt(opts, "--hold")

		lockKey := key + "/" + action
		token := ulid.Make().String()
		ok, err := backend.AcquireLock(ctx, lockKey, token, ttl)
		if err != nil {
			log.Fatalf("lock %s: %v", lockKey, err)
		}
		if !ok {
			log.Fatalf("lock %s: already held", lockKey)
		}
		out.Printf("acquired %s (token %s), holding %s", lockKey, token, hold)
		time.Sleep(hold)
		if err := backend.ReleaseLock(ctx, lockKey, token); err != nil {
			log.Fatalf("release %s: %v", lockKey, err)
		}
		out.Println("released")
	}
}

func command(opts docopt.Opts, name string) bool {
	on, _ := opts.Bool(name)
	return on
}

func durationOpt(opts docopt.Opts, name string) time.Duration {
	raw, _ := opts.String(name)
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: bad duration %q: %v", name, raw, err)
	}
	return d
}
