package watcher

import "sync"

// MarketData is the accepted-tick notification published to in-process
// consumers: the instrument, its final mapped timestamp, and the price and
// volume payload.
type MarketData struct {
	Instrument string
	Timestamp  int64
	LastPrice  float64
	Volume     int64
	AskPrice1  float64
	AskVolume1 int64
	BidPrice1  float64
	BidVolume1 int64
}

// subscribers fans accepted ticks out to consumer channels with
// non-blocking sends, dropping events for subscribers that fall behind.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	chans  map[int]chan MarketData
}

func newSubscribers() *subscribers {
	return &subscribers{chans: make(map[int]chan MarketData)}
}

func (s *subscribers) subscribe(buffer int) (int, <-chan MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	ch := make(chan MarketData, buffer)
	s.chans[id] = ch
	return id, ch
}

func (s *subscribers) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chans[id]; ok {
		delete(s.chans, id)
		close(ch)
	}
}

func (s *subscribers) publish(md MarketData) {
	s.mu.Lock()
	for _, ch := range s.chans {
		select {
		case ch <- md:
		default:
			// Slow subscriber, drop event.
		}
	}
	s.mu.Unlock()
}
