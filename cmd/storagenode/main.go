// Package main implements the storagenode CLI as specified in §2/§6.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/beenet-project/storagenode/pkg/blockstore"
	"github.com/beenet-project/storagenode/pkg/constants"
	"github.com/beenet-project/storagenode/pkg/control"
	"github.com/beenet-project/storagenode/pkg/identity"
	"github.com/beenet-project/storagenode/pkg/network"
	"github.com/beenet-project/storagenode/pkg/node"
	"github.com/beenet-project/storagenode/pkg/transport/quic"
)

// Build-time variables set by ldflags
var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	var err error
	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "start":
		err = startCommand()
	case "keygen":
		err = keygenCommand()
	case "put":
		err = putCommand()
	case "get":
		err = getCommand()
	case "delete":
		err = deleteCommand()
	case "list":
		err = listCommand()
	case "space":
		err = spaceCommand()
	case "peer":
		err = peerCommand()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("storagenode %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`storagenode v%s - content-addressed storage node

Usage:
  storagenode <command> [options]

Commands:
  start     Start the node daemon and its control API
  keygen    Generate new identity keys
  put       Store a file and print its manifest CID
  get       Fetch a dataset by CID into local storage and print its metadata
  delete    Delete a dataset by CID from local storage
  list      List manifest CIDs held locally
  space     Report local storage usage
  peer      Tell this node a peer claims to hold a CID
  version   Show version information
  help      Show this help message

Examples:
  storagenode keygen
  storagenode start --listen 127.0.0.1:27777 --net-listen 0.0.0.0:27487 --store ./data
  storagenode put myfile.txt
  storagenode peer bee:1:mfs:sha256:n5rhw5s5gn5zdwnl66tvhfli3xzn3r5ocqqs65vvp75zk2vr7wmq bee:key:z6Mk... 203.0.113.5:27487
  storagenode get bee:1:mfs:sha256:n5rhw5s5gn5zdwnl66tvhfli3xzn3r5ocqqs65vvp75zk2vr7wmq output.txt

For more information, visit: https://github.com/beenet-project/storagenode

`, version)
}

func getIdentityPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "storagenode-identity.json"
	}
	return filepath.Join(homeDir, ".storagenode", "identity.json")
}

func loadOrCreateIdentity() (*identity.Identity, error) {
	identityPath := getIdentityPath()

	if _, err := os.Stat(identityPath); err == nil {
		return identity.LoadFromFile(identityPath)
	}

	fmt.Println("No existing identity found, generating new identity...")
	id, err := identity.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(identityPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := id.SaveToFile(identityPath); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}

	fmt.Printf("New identity created and saved to %s\n", identityPath)
	return id, nil
}

func defaultStoreDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "storagenode-data"
	}
	return filepath.Join(homeDir, ".storagenode", "blocks")
}

const defaultControlAddr = "127.0.0.1:27777"

func defaultNetAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", constants.DefaultQUICPort)
}

// openStore opens the on-disk FileTreeStore at dir, matching the engine's
// long-lived daemon and one-shot CLI command paths alike.
func openStore(dir string) (*blockstore.FileTreeStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return blockstore.OpenFileTreeStore(dir, 0)
}

func flagValue(name, def string) string {
	for i := 2; i < len(os.Args)-1; i++ {
		if os.Args[i] == name {
			return os.Args[i+1]
		}
	}
	return def
}

// startCommand implements the start subcommand: opens the on-disk store,
// stands up the block-exchange network server/client pair, constructs the
// node engine around them, and serves the control API until interrupted.
func startCommand() error {
	fmt.Println("Starting storagenode...")

	id, err := loadOrCreateIdentity()
	if err != nil {
		return err
	}

	storeDir := flagValue("--store", defaultStoreDir())
	store, err := openStore(storeDir)
	if err != nil {
		return fmt.Errorf("failed to open block store: %w", err)
	}
	defer store.Close()

	tlsConfig, err := network.SelfSignedTLSConfig(id)
	if err != nil {
		return fmt.Errorf("failed to build network tls config: %w", err)
	}
	transport := quic.New()
	providers := network.NewProvideStore()
	netServer := network.NewServer(store, providers, id, nil)
	client := network.NewClient(transport, tlsConfig, id, providers)

	ctx := context.Background()

	netAddr := flagValue("--net-listen", defaultNetAddr())
	netListener, err := transport.Listen(ctx, netAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to create network listener: %w", err)
	}
	defer netListener.Close()
	go func() {
		if err := netServer.Serve(ctx, netListener); err != nil {
			fmt.Fprintf(os.Stderr, "network server stopped: %v\n", err)
		}
	}()

	engine := node.New(store, node.Options{Fetcher: client})

	fmt.Printf("BID: %s\n", id.BID())
	fmt.Printf("Honeytag: %s\n", id.Honeytag())
	fmt.Printf("Store: %s\n", storeDir)
	fmt.Printf("Network listening on %s (%s)\n", netListener.Addr().String(), transport.Name())

	controlServer := control.NewServer(engine, id, nil)
	defer controlServer.Close()
	controlServer.SetProviders(providers)

	listenAddr := flagValue("--listen", defaultControlAddr)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create control listener: %w", err)
	}
	defer listener.Close()

	fmt.Printf("Control API listening on %s\n", listener.Addr().String())

	fmt.Println("Node running. Press Ctrl+C to stop.")
	return controlServer.Serve(ctx, listener)
}

// keygenCommand implements the keygen subcommand.
func keygenCommand() error {
	fmt.Println("Generating new identity...")

	id, err := identity.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	identityPath := getIdentityPath()
	if _, err := os.Stat(identityPath); err == nil {
		fmt.Printf("Warning: Identity already exists at %s\n", identityPath)
		fmt.Print("Overwrite? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Identity generation cancelled")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(identityPath), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := id.SaveToFile(identityPath); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	fmt.Printf("New identity generated and saved to %s\n", identityPath)
	fmt.Printf("BID: %s\n", id.BID())
	fmt.Printf("Honeytag: %s\n", id.Honeytag())
	return nil
}

// controlRequest sends a single JSON request to the running node's control
// API and returns its decoded response.
func controlRequest(method string, params map[string]interface{}) (control.Response, error) {
	conn, err := net.Dial("tcp", defaultControlAddr)
	if err != nil {
		return control.Response{}, fmt.Errorf("failed to connect to node (is it running?): %w", err)
	}
	defer conn.Close()

	request := control.Request{Method: method, ID: "cli", Params: params}
	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return control.Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	var response control.Response
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return control.Response{}, fmt.Errorf("failed to read response: %w", err)
	}
	if response.Error != "" {
		return control.Response{}, fmt.Errorf("%s", response.Error)
	}
	return response, nil
}

// putCommand implements the put subcommand.
func putCommand() error {
	if len(os.Args) < 3 {
		fmt.Println("Usage: storagenode put <file>")
		fmt.Println("  Stores a file and prints its manifest CID")
		return nil
	}
	filePath := os.Args[2]

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	resp, err := controlRequest("data.put", map[string]interface{}{
		"data":      string(data),
		"filename":  filepath.Base(filePath),
		"blockSize": float64(constants.DefaultBlockSize),
	})
	if err != nil {
		return err
	}

	result := resp.Result.(map[string]interface{})
	fmt.Printf("Manifest CID: %v\n", result["cid"])
	return nil
}

// getCommand implements the get subcommand.
func getCommand() error {
	if len(os.Args) < 3 {
		fmt.Println("Usage: storagenode get <cid> [output-file]")
		return nil
	}
	cidStr := os.Args[2]
	outputPath := "retrieved_content"
	if len(os.Args) > 3 {
		outputPath = os.Args[3]
	}

	manifestResp, err := controlRequest("data.network.manifest", map[string]interface{}{"cid": cidStr})
	if err != nil {
		return fmt.Errorf("failed to fetch manifest: %w", err)
	}
	view := manifestResp.Result.(map[string]interface{})
	if name, ok := view["filename"].(string); ok && name != "" && len(os.Args) <= 3 {
		outputPath = name
	}

	_, err = controlRequest("data.network.fetch", map[string]interface{}{"cid": cidStr})
	if err != nil {
		return fmt.Errorf("failed to fetch dataset: %w", err)
	}

	fmt.Printf("CID: %s\n", cidStr)
	fmt.Printf("Dataset size: %v bytes\n", view["datasetSize"])
	fmt.Printf("Output file: %s\n", outputPath)
	fmt.Println("Note: the dataset's blocks are now in the node's local store; this command does not write the output file.")
	return nil
}

// deleteCommand implements the delete subcommand.
func deleteCommand() error {
	if len(os.Args) < 3 {
		fmt.Println("Usage: storagenode delete <cid>")
		return nil
	}
	_, err := controlRequest("data.delete", map[string]interface{}{"cid": os.Args[2]})
	if err != nil {
		return err
	}
	fmt.Printf("Deleted: %s\n", os.Args[2])
	return nil
}

// listCommand implements the list subcommand.
func listCommand() error {
	resp, err := controlRequest("data.list", nil)
	if err != nil {
		return err
	}
	result := resp.Result.(map[string]interface{})
	cids, _ := result["cids"].([]interface{})
	if len(cids) == 0 {
		fmt.Println("No datasets stored locally")
		return nil
	}
	fmt.Printf("Datasets (%d):\n", len(cids))
	for _, c := range cids {
		fmt.Printf("  %v\n", c)
	}
	return nil
}

// peerCommand implements the peer subcommand, telling the running daemon
// that a peer claims to hold a given CID, since this node has no DHT or
// gossip discovery layer to learn that on its own.
func peerCommand() error {
	if len(os.Args) < 5 {
		fmt.Println("Usage: storagenode peer <cid> <peer-bid> <peer-addr>")
		return nil
	}
	_, err := controlRequest("peer.announce", map[string]interface{}{
		"cid":  os.Args[2],
		"bid":  os.Args[3],
		"addr": os.Args[4],
	})
	if err != nil {
		return err
	}
	fmt.Printf("Announced %s as a provider of %s\n", os.Args[3], os.Args[2])
	return nil
}

// spaceCommand implements the space subcommand.
func spaceCommand() error {
	resp, err := controlRequest("space.get", nil)
	if err != nil {
		return err
	}
	result := resp.Result.(map[string]interface{})
	fmt.Printf("Datasets stored: %v\n", result["datasetCount"])
	return nil
}
