package bus

import "testing"

type event struct {
	Type string
	ID   string
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New[event]("test")
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(event{Type: "created", ID: "job-1"})

	for _, sub := range []*Subscription[event]{sub1, sub2} {
		select {
		case got := <-sub.C():
			if got.ID != "job-1" {
				t.Errorf("ID = %v, want job-1", got.ID)
			}
		default:
			t.Error("expected event on subscriber channel")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New[event]("test")
	sub := b.Subscribe()
	sub.Unsubscribe()

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
	b.Publish(event{Type: "created"})
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := New[event]("test")
	b.bufferSize = 1
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(event{Type: "1"})
	b.Publish(event{Type: "2"})

	if b.DropCount() == 0 {
		t.Error("expected at least one dropped event")
	}
}
