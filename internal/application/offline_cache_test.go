package application

import (
	"fmt"
	"reflect"
	"testing"
)

func TestOfflineCache_EvictsOldestInsertion(t *testing.T) {
	cache := NewOfflineCache[string, []byte](10)

	for i := 1; i <= 11; i++ {
		cache.Put(fmt.Sprintf("k%d", i), []byte{byte(i)})
		if cache.Len() > 10 {
			t.Fatalf("size %d exceeds capacity after inserting k%d", cache.Len(), i)
		}
	}

	if _, ok := cache.Get("k1"); ok {
		t.Error("k1 should have been evicted")
	}
	got, ok := cache.Get("k11")
	if !ok || got[0] != 11 {
		t.Errorf("Get(k11) = %v, %v", got, ok)
	}
	if cache.Len() != 10 {
		t.Errorf("Len() = %d, want 10", cache.Len())
	}
}

func TestOfflineCache_GetDoesNotPromote(t *testing.T) {
	cache := NewOfflineCache[string, int](3)
	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("c", 3)

	// Reading a would save it in an LRU cache.
	cache.Get("a")
	cache.Put("d", 4)

	if _, ok := cache.Get("a"); ok {
		t.Error("a should be evicted despite the recent read")
	}
	if want := []string{"b", "c", "d"}; !reflect.DeepEqual(cache.Keys(), want) {
		t.Errorf("Keys() = %v, want %v", cache.Keys(), want)
	}
}

func TestOfflineCache_ReplaceKeepsPosition(t *testing.T) {
	cache := NewOfflineCache[string, int](2)
	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("a", 10)

	if v, _ := cache.Get("a"); v != 10 {
		t.Errorf("Get(a) = %d, want 10", v)
	}

	cache.Put("c", 3)
	if _, ok := cache.Get("a"); ok {
		t.Error("replaced key should keep its original insertion position")
	}
}

func TestOfflineCache_OnEvictAndDelete(t *testing.T) {
	cache := NewOfflineCache[string, int](2)
	var evicted []string
	cache.OnEvict(func(key string) { evicted = append(evicted, key) })

	cache.Put("a", 1)
	cache.Put("b", 2)
	if !cache.Delete("a") {
		t.Fatal("Delete(a) = false")
	}
	if cache.Delete("a") {
		t.Error("second Delete(a) should report absence")
	}
	cache.Put("c", 3)
	cache.Put("d", 4)

	if want := []string{"b"}; !reflect.DeepEqual(evicted, want) {
		t.Errorf("evicted = %v, want %v", evicted, want)
	}
}

func TestOfflineCache_DefaultCapacity(t *testing.T) {
	cache := NewOfflineCache[int, int](0)
	if cache.Capacity() != DefaultOfflineCacheCapacity {
		t.Errorf("Capacity() = %d, want %d", cache.Capacity(), DefaultOfflineCacheCapacity)
	}
	cache.Put(1, 1)
	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Len() after Clear = %d", cache.Len())
	}
}
