package storage

// LoadFactor is the maximum occupancy ratio of a table before it grows.
const LoadFactor = 0.72

const (
	defaultRegistryPrime = 1
	defaultContractPrime = 0
)

// primes is the capacity growth sequence shared by both tables.
var primes = [...]int{
	3, 7, 11, 17, 23, 29, 37, 47, 59, 71, 89, 107, 131, 163, 197, 239, 293, 353, 431, 521,
	631, 761, 919, 1103, 1327, 1597, 1931, 2333, 2801, 3371, 4049, 4861, 5839, 7013, 8419,
	10103, 12143, 14591, 17519, 21023, 25229, 30293, 36353, 43627, 52361, 62851, 75431,
	90523, 108631, 130363, 156437, 187751, 225307, 270371, 324449, 389357, 467237, 560689,
	672827, 807403, 968897, 1162687, 1395263, 1674319, 2009191, 2411033, 2893249, 3471899,
	4166287, 4999559, 5999471, 7199369,
}

// maxLoad is the number of rows a table of the given size may hold.
func maxLoad(size int) uint32 {
	return uint32(float64(size) * LoadFactor)
}

// primeSize returns the capacity for a prime index, clamping out-of-range
// indices to the sequence bounds.
func primeSize(index int) int {
	switch {
	case index < 0:
		return primes[0]
	case index >= len(primes):
		return primes[len(primes)-1]
	}
	return primes[index]
}

// capacityFor returns the smallest capacity (and its index in primes) able
// to hold required rows without crossing the load factor. Past the end of the
// sequence it falls back to the next prime above required / LoadFactor.
func capacityFor(required int) (index, size int) {
	for i, p := range primes {
		if int(maxLoad(p)) >= required {
			return i, p
		}
	}
	n := int(float64(required)/LoadFactor) + 1
	for !isPrime(n) {
		n++
	}
	return len(primes), n
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := 3; d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}
