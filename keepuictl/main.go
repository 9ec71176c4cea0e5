package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/perkeep/perkeep-sub001/keepui"
)

const KeepUiCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Keep ui control.

Talks to a server's json endpoints the way the browser ui does.
Pass --auth_token=- to prompt for the token without echo.

Usage:
    keepuictl discover --server_url=<server_url>
    keepuictl recent --server_url=<server_url>
        [--auth_token=<auth_token>]
        [--thumb_size=<thumb_size>]
    keepuictl search --server_url=<server_url> <expression>
        [--auth_token=<auth_token>]
        [--limit=<limit>]
    keepuictl watch --server_url=<server_url> <expression>
        [--auth_token=<auth_token>]
        [--update_count=<update_count>]
    keepuictl describe --server_url=<server_url> <blobref>
        [--auth_token=<auth_token>]
        [--thumb_size=<thumb_size>]
    keepuictl claims --server_url=<server_url> <blobref>
        [--auth_token=<auth_token>]
    keepuictl tree --server_url=<server_url> <blobref>
        [--auth_token=<auth_token>]
    keepuictl upload --server_url=<server_url> <file>
        [--auth_token=<auth_token>]
    keepuictl create-permanode --server_url=<server_url>
        [--auth_token=<auth_token>]
    keepuictl set-attr --server_url=<server_url> <permanode> <attr> <value>
        [--auth_token=<auth_token>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --server_url=<server_url>      Server root url.
    --auth_token=<auth_token>      Bearer token, or - to prompt.
    --thumb_size=<thumb_size>      Requested thumbnail height [default: 100].
    --limit=<limit>                Max results per page [default: 50].
    --update_count=<update_count>  Exit after this many updates.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], KeepUiCtlVersion)
	if err != nil {
		panic(err)
	}

	if discover_, _ := opts.Bool("discover"); discover_ {
		discover(opts)
	} else if recent_, _ := opts.Bool("recent"); recent_ {
		recent(opts)
	} else if search_, _ := opts.Bool("search"); search_ {
		search(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if describe_, _ := opts.Bool("describe"); describe_ {
		describe(opts)
	} else if claims_, _ := opts.Bool("claims"); claims_ {
		claims(opts)
	} else if tree_, _ := opts.Bool("tree"); tree_ {
		tree(opts)
	} else if upload_, _ := opts.Bool("upload"); upload_ {
		upload(opts)
	} else if createPermanode_, _ := opts.Bool("create-permanode"); createPermanode_ {
		createPermanode(opts)
	} else if setAttr_, _ := opts.Bool("set-attr"); setAttr_ {
		setAttr(opts)
	}
}

func connect(opts docopt.Opts) *keepui.ServerConnection {
	serverUrl, _ := opts.String("--server_url")

	config, err := keepui.Discover(context.Background(), serverUrl)
	if err != nil {
		Err.Fatalf("Could not discover %s (%s).", serverUrl, err)
	}

	sc := keepui.NewServerConnection(config)

	if authToken, err := opts.String("--auth_token"); err == nil && authToken != "" {
		if authToken == "-" {
			fmt.Fprint(os.Stderr, "auth token: ")
			tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				Err.Fatalf("Could not read token (%s).", err)
			}
			authToken = strings.TrimSpace(string(tokenBytes))
		}
		sc.SetAuthToken(authToken)
	}
	return sc
}

func discover(opts docopt.Opts) {
	serverUrl, _ := opts.String("--server_url")

	config, err := keepui.Discover(context.Background(), serverUrl)
	if err != nil {
		Err.Fatalf("Could not discover %s (%s).", serverUrl, err)
	}

	Out.Printf("searchRoot: %s", config.SearchRoot)
	Out.Printf("blobRoot:   %s", config.BlobRoot)
	if config.UploadHelper != "" {
		Out.Printf("uploadHelper: %s", config.UploadHelper)
	}
	if config.Signing != nil {
		Out.Printf("signer: %s", config.Signing.PublicKeyBlobRef)
	}
	if config.OwnerName != "" {
		Out.Printf("owner: %s", config.OwnerName)
	}
}

func recent(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	thumbSize, _ := opts.Int("--thumb_size")

	callback, channel := keepui.NewBlockingApiCallback[*keepui.RecentResult]()
	sc.GetRecent(thumbSize, "", callback)
	result := <-channel
	if result.Error != nil {
		Err.Fatalf("Recent failed (%s).", result.Error)
	}

	for _, item := range result.Result.Recent {
		title := keepui.Title(result.Result.Meta, item.BlobRef.String())
		Out.Printf("%s  %s  %s", item.BlobRef, item.ModTime, title)
	}
}

func newQuery(opts docopt.Opts) *keepui.SearchQuery {
	expression, _ := opts.String("<expression>")
	limit, _ := opts.Int("--limit")
	return &keepui.SearchQuery{
		Expression: expression,
		Limit:      limit,
		Describe:   &keepui.DescribeRequest{ThumbnailSize: 100},
	}
}

func search(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	result, err := sc.SearchSync(newQuery(opts))
	if err != nil {
		Err.Fatalf("Search failed (%s).", err)
	}

	printSearchResult(result)
	if result.Continue != "" {
		Out.Printf("(more, continue=%s)", result.Continue)
	}
}

func printSearchResult(result *keepui.SearchResult) {
	var bag keepui.MetaBag
	if result.Description != nil {
		bag = result.Description.Meta
	}
	for _, blob := range result.Blobs {
		Out.Printf("%s  %s", blob.Blob, keepui.Title(bag, blob.Blob.String()))
	}
}

func watch(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	var updateCount int
	if updateCount_, err := opts.Int("--update_count"); err == nil {
		updateCount = updateCount_
	} else {
		updateCount = -1
	}

	session := keepui.NewSearchSession(sc, newQuery(opts))
	defer session.Close()

	changes := make(chan keepui.ChangeKind, 32)
	session.AddChangedCallback(func(kind keepui.ChangeKind) {
		changes <- kind
	})
	session.AddFetchFailureCallback(func(err error) {
		Err.Printf("Fetch failed (%s).", err)
	})

	session.LoadMore()

	for i := 0; updateCount < 0 || i < updateCount; i += 1 {
		kind := <-changes
		results := session.CurrentResults()
		Out.Printf("-- %s (%d blobs) --", kind, len(results.Blobs))
		for _, ref := range results.Blobs {
			Out.Printf("%s  %s", ref, keepui.Title(results.Description.Meta, ref.String()))
		}
	}
}

func describe(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	ref := parseBlobRefArg(opts, "<blobref>")
	thumbSize, _ := opts.Int("--thumb_size")

	callback, channel := keepui.NewBlockingApiCallback[*keepui.DescribeResponse]()
	sc.Describe(ref, thumbSize, callback)
	result := <-channel
	if result.Error != nil {
		Err.Fatalf("Describe failed (%s).", result.Error)
	}

	bag := result.Result.Meta
	meta := bag[ref.String()]
	if meta == nil {
		Out.Printf("%s: not found", ref)
		return
	}
	Out.Printf("%s  %s  %q", ref, meta.CamliType, keepui.Title(bag, ref.String()))
	if meta.Permanode != nil {
		for attr, values := range meta.Permanode.Attr {
			for _, value := range values {
				Out.Printf("  %s = %s", attr, value)
			}
		}
	}
	if resolved := keepui.ResolvedMeta(bag, ref.String()); resolved != nil && resolved != meta {
		Out.Printf("  camliContent -> %s (%s)", resolved.BlobRef, resolved.CamliType)
	}
}

func claims(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	ref := parseBlobRefArg(opts, "<blobref>")

	callback, channel := keepui.NewBlockingApiCallback[*keepui.ClaimsResult]()
	sc.PermanodeClaims(ref, callback)
	result := <-channel
	if result.Error != nil {
		Err.Fatalf("Claims failed (%s).", result.Error)
	}

	for _, claim := range result.Result.Claims {
		Out.Printf("%s  %s  %s=%s  (%s)", claim.Date, claim.Type, claim.Attr, claim.Value, claim.BlobRef)
	}
}

func tree(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	ref := parseBlobRefArg(opts, "<blobref>")

	callback, channel := keepui.NewBlockingApiCallback[*keepui.FileTreeNode]()
	sc.FileTree(ref, callback)
	result := <-channel
	if result.Error != nil {
		Err.Fatalf("Tree failed (%s).", result.Error)
	}

	printTreeNode(result.Result, 0)
}

func printTreeNode(node *keepui.FileTreeNode, depth int) {
	Out.Printf("%s%s  %s  %s", strings.Repeat("  ", depth), node.Name, node.Type, node.BlobRef)
	for _, child := range node.Children {
		printTreeNode(child, depth+1)
	}
}

func upload(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	filePath, _ := opts.String("<file>")
	contents, err := os.ReadFile(filePath)
	if err != nil {
		Err.Fatalf("Could not read %s (%s).", filePath, err)
	}

	options := keepui.UploadFileOptions{
		OnContentsRef: func(contentsRef keepui.BlobRef) {
			Out.Printf("contents: %s", contentsRef)
		},
	}

	callback, channel := keepui.NewBlockingApiCallback[keepui.BlobRef]()
	sc.UploadFile(filePathBase(filePath), contents, options, callback)
	result := <-channel
	if result.Error != nil {
		Err.Fatalf("Upload failed (%s).", result.Error)
	}
	Out.Printf("file: %s", result.Result)
}

func filePathBase(filePath string) string {
	if i := strings.LastIndexByte(filePath, '/'); i >= 0 {
		return filePath[i+1:]
	}
	return filePath
}

func createPermanode(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	callback, channel := keepui.NewBlockingApiCallback[keepui.BlobRef]()
	sc.CreatePermanode(callback)
	result := <-channel
	if result.Error != nil {
		Err.Fatalf("Create permanode failed (%s).", result.Error)
	}
	Out.Printf("%s", result.Result)
}

func setAttr(opts docopt.Opts) {
	sc := connect(opts)
	defer sc.Close()

	permanode := parseBlobRefArg(opts, "<permanode>")
	attr, _ := opts.String("<attr>")
	value, _ := opts.String("<value>")

	timeout := 30 * time.Second

	callback, channel := keepui.NewBlockingApiCallback[keepui.BlobRef]()
	sc.NewSetAttributeClaim(permanode, attr, value, callback)

	select {
	case result := <-channel:
		if result.Error != nil {
			Err.Fatalf("Claim failed (%s).", result.Error)
		}
		Out.Printf("claim: %s", result.Result)
	case <-time.After(timeout):
		Err.Fatalf("Claim not acked (timeout).")
	}
}

func parseBlobRefArg(opts docopt.Opts, name string) keepui.BlobRef {
	refStr, _ := opts.String(name)
	ref, err := keepui.ParseBlobRef(refStr)
	if err != nil {
		Err.Fatalf("Invalid blobref %q (%s).", refStr, err)
	}
	return ref
}
