package localbase

// ClientOptions configures the companions NewClient creates around a DB.
type ClientOptions struct {
	Auth     AuthOptions
	Files    FileStorageOptions
	Realtime RealtimeOptions
}

// Client bundles a store with its session, file storage and realtime
// emulations, mirroring the shape of a hosted backend client.
type Client struct {
	DB       *DB
	Auth     *Auth
	Storage  *FileStorage
	Realtime *Realtime
}

func NewClient(db *DB, opt ClientOptions) *Client {
	if opt.Files.Logger == nil {
		opt.Files.Logger = db.logger
	}
	return &Client{
		DB:       db,
		Auth:     NewAuth(db, opt.Auth),
		Storage:  NewFileStorage(opt.Files),
		Realtime: NewRealtime(db, opt.Realtime),
	}
}

// From starts a query on table.
func (c *Client) From(table string) *Query {
	return c.DB.From(table)
}

// Channel is shorthand for c.Realtime.Channel.
func (c *Client) Channel(name string) *Channel {
	return c.Realtime.Channel(name)
}

func (c *Client) RemoveChannel(ch *Channel) {
	c.Realtime.RemoveChannel(ch)
}

// Close detaches realtime delivery and closes the store.
func (c *Client) Close() error {
	c.Realtime.Close()
	return c.DB.Close()
}
