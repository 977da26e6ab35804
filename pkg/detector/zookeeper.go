package detector

import (
	"fmt"
	"sort"
	"time"

	zkCli "github.com/samuel/go-zookeeper/zk"

	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/transport"
)

// DefaultZooKeeperPath is where masters publish their candidacies as
// ephemeral-sequential znodes whose data is the master's PID string.
const DefaultZooKeeperPath = "/burrow/masters"

// ZooKeeper watches a master election group: the candidate znode with
// the smallest sequence number is the elected master. Data of that
// znode is the master's "id@host:port" endpoint.
type ZooKeeper struct {
	servers     []string
	path        string
	connTimeout time.Duration

	conn      *zkCli.Conn
	connChan  <-chan zkCli.Event
	listener  Listener
	closeChan chan struct{}
}

// NewZooKeeper builds a detector over the given ensemble. path may be
// empty to use DefaultZooKeeperPath.
func NewZooKeeper(servers []string, path string, connTimeout time.Duration) *ZooKeeper {
	if path == "" {
		path = DefaultZooKeeperPath
	}
	return &ZooKeeper{
		servers:     servers,
		path:        path,
		connTimeout: connTimeout,
		closeChan:   make(chan struct{}),
	}
}

// Detect connects and begins watching the election group. It is
// non-blocking; transitions are delivered on detector goroutines.
func (z *ZooKeeper) Detect(l Listener) error {
	z.listener = l

	conn, connChan, err := zkCli.Connect(z.servers, z.connTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	z.conn = conn
	z.connChan = connChan

	leader, watch, err := z.watchLeader()
	if err != nil {
		conn.Close()
		return err
	}
	z.report(leader)

	go z.monitor(watch)
	return nil
}

// Close stops watching and drops the connection.
func (z *ZooKeeper) Close() {
	close(z.closeChan)
	if z.conn != nil {
		z.conn.Close()
	}
}

// watchLeader resolves the current leader znode and sets a watch on
// the group's children.
func (z *ZooKeeper) watchLeader() (string, <-chan zkCli.Event, error) {
	children, _, watch, err := z.conn.ChildrenW(z.path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to watch %s: %w", z.path, err)
	}
	if len(children) == 0 {
		return "", watch, nil
	}

	sort.Strings(children)
	data, _, err := z.conn.Get(z.path + "/" + children[0])
	if err != nil {
		return "", nil, fmt.Errorf("failed to read leader znode: %w", err)
	}
	return string(data), watch, nil
}

func (z *ZooKeeper) report(leader string) {
	logger := log.WithComponent("detector")
	if leader == "" {
		logger.Warn().Msg("No master candidates in election group")
		z.listener.NoMasterDetected()
		return
	}
	pid, err := transport.ParsePID(leader)
	if err != nil {
		logger.Error().Err(err).Str("data", leader).Msg("Ignoring malformed master endpoint")
		z.listener.NoMasterDetected()
		return
	}
	logger.Info().Str("master", pid.String()).Msg("Master detected")
	z.listener.NewMasterDetected(pid)
}

// monitor re-resolves the leader whenever the group changes and
// re-establishes the session when the connection drops.
func (z *ZooKeeper) monitor(watch <-chan zkCli.Event) {
	logger := log.WithComponent("detector")
	for {
		select {
		case <-watch:
			leader, next, err := z.watchLeader()
			if err != nil {
				logger.Error().Err(err).Msg("Failed to re-resolve master, retrying")
				time.Sleep(time.Second)
				leader, next, err = z.watchLeader()
				if err != nil {
					z.listener.NoMasterDetected()
					return
				}
			}
			z.report(leader)
			watch = next

		case event := <-z.connChan:
			if event.State == zkCli.StateDisconnected {
				logger.Warn().Msg("ZooKeeper session lost, reconnecting")
				conn, connChan, err := zkCli.Connect(z.servers, z.connTimeout)
				if err != nil {
					logger.Error().Err(err).Msg("Failed to reconnect to zookeeper")
					z.listener.NoMasterDetected()
					return
				}
				z.conn = conn
				z.connChan = connChan
				leader, next, err := z.watchLeader()
				if err != nil {
					logger.Error().Err(err).Msg("Failed to re-resolve master after reconnect")
					z.listener.NoMasterDetected()
					return
				}
				z.report(leader)
				watch = next
			}

		case <-z.closeChan:
			return
		}
	}
}
