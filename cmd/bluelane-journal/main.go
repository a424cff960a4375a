package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
)

func main() {
	peer := flag.String("peer", "", "Only entries for this peer")
	kinds := flag.String("kind", "", "Comma-separated entry kinds (issue,retry,drop,...)")
	source := flag.String("source", "", "Only entries from central or peripheral")
	asJSON := flag.Bool("json", false, "Print entries as JSON")
	summary := flag.Bool("summary", false, "Print per-kind counts instead of entries")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("Usage: bluelane-journal [-peer id] [-kind k1,k2] [-source central|peripheral] [-json|-summary] <journal.cbor>")
		os.Exit(1)
	}

	filter, err := buildFilter(*peer, *kinds, *source)
	if err != nil {
		log.Fatalf("Invalid filter: %v", err)
	}

	r, err := journal.NewFilteredReader(flag.Arg(0), filter)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer r.Close()

	counts := make(map[string]int)
	total := 0
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read entry %d: %v", total+1, err)
		}
		total++
		switch {
		case *summary:
			counts[e.Kind.String()]++
		case *asJSON:
			fmt.Println(logger.ToJSON(e.Struct()))
		default:
			fmt.Println(e.String())
		}
	}

	if *summary {
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-12s %d\n", name, counts[name])
		}
		fmt.Printf("%-12s %d\n", "total", total)
	}
}

func buildFilter(peer, kinds, source string) (journal.Filter, error) {
	f := journal.Filter{Peer: peer}
	if kinds != "" {
		for _, name := range strings.Split(kinds, ",") {
			k, ok := journal.ParseKind(strings.TrimSpace(name))
			if !ok {
				return f, fmt.Errorf("unknown kind %q", name)
			}
			f.Kinds = append(f.Kinds, k)
		}
	}
	switch source {
	case "":
	case "central":
		s := journal.SourceCentral
		f.Source = &s
	case "peripheral":
		s := journal.SourcePeripheral
		f.Source = &s
	default:
		return f, fmt.Errorf("unknown source %q", source)
	}
	return f, nil
}
