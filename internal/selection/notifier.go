package selection

import "sync"

// ChangeEvent carries the paths affected by one mutation.
// An empty Paths slice asks observers to reload everything.
type ChangeEvent struct {
	Paths []string
}

// ReloadAll reports whether the event is the "reload everything" signal.
func (event ChangeEvent) ReloadAll() bool {
	return len(event.Paths) == 0
}

// Subscriber receives change events synchronously.
type Subscriber func(ChangeEvent)

// Notifier fans change events out to every registered subscriber.
type Notifier struct {
	mutex       sync.Mutex
	nextID      int
	order       []int
	subscribers map[int]Subscriber
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subscribers: map[int]Subscriber{}}
}

// Subscribe registers subscriber and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (notifier *Notifier) Subscribe(subscriber Subscriber) func() {
	if subscriber == nil {
		return func() {}
	}
	notifier.mutex.Lock()
	identifier := notifier.nextID
	notifier.nextID++
	notifier.subscribers[identifier] = subscriber
	notifier.order = append(notifier.order, identifier)
	notifier.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			notifier.mutex.Lock()
			defer notifier.mutex.Unlock()
			delete(notifier.subscribers, identifier)
			for index, candidate := range notifier.order {
				if candidate == identifier {
					notifier.order = append(notifier.order[:index], notifier.order[index+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers paths to the subscribers registered at call time.
// Subscribers run outside the registry lock so they may subscribe or unsubscribe.
func (notifier *Notifier) Publish(paths []string) {
	notifier.mutex.Lock()
	snapshot := make([]Subscriber, 0, len(notifier.order))
	for _, identifier := range notifier.order {
		snapshot = append(snapshot, notifier.subscribers[identifier])
	}
	notifier.mutex.Unlock()

	event := ChangeEvent{Paths: append([]string(nil), paths...)}
	for _, subscriber := range snapshot {
		subscriber(event)
	}
}

// SubscriberCount returns the number of active subscribers.
func (notifier *Notifier) SubscriberCount() int {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	return len(notifier.subscribers)
}
