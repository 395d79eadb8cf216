package ml

const (
	// DefaultK is the k-mer length used by the service.
	DefaultK = 3
	// DefaultDim is the length of every feature vector.
	DefaultDim = 1000
)

// FeatureVector holds k-mer occurrence counts, one slot per distinct k-mer.
type FeatureVector []float64

// NonZero returns the number of occupied slots.
func (v FeatureVector) NonZero() int {
	n := 0
	for _, x := range v {
		if x != 0 {
			n++
		}
	}
	return n
}

// Float32 converts the vector for backends that take single precision input.
func (v FeatureVector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Vectorizer turns a normalized sequence into a feature vector.
type Vectorizer interface {
	Vectorize(seq string) FeatureVector
	Len() int
}

// KmerVectorizer is the Vectorizer backed by Vectorize.
type KmerVectorizer struct {
	K   int `json:"k" yaml:"k"`
	Dim int `json:"dim" yaml:"dim"`
}

// DefaultVectorizer uses DefaultK and DefaultDim.
var DefaultVectorizer = KmerVectorizer{K: DefaultK, Dim: DefaultDim}

func (kv KmerVectorizer) Vectorize(seq string) FeatureVector {
	return Vectorize(seq, kv.K, kv.Dim)
}

// Len returns the length of the vectors produced.
func (kv KmerVectorizer) Len() int {
	if kv.Dim <= 0 {
		return DefaultDim
	}
	return kv.Dim
}

// Vectorize counts every overlapping k-mer of seq. Distinct k-mers take slots
// in order of first occurrence; once dim slots are taken further distinct
// k-mers are dropped. Sequences shorter than k give an all-zero vector.
// Non-positive k or dim fall back to the defaults.
func Vectorize(seq string, k, dim int) FeatureVector {
	if k <= 0 {
		k = DefaultK
	}
	if dim <= 0 {
		dim = DefaultDim
	}
	vec := make(FeatureVector, dim)

	residues := []rune(seq)
	if len(residues) < k {
		return vec
	}

	slots := make(map[string]int, min(dim, len(residues)))
	for i := 0; i+k <= len(residues); i++ {
		kmer := string(residues[i : i+k])
		slot, ok := slots[kmer]
		if !ok {
			if len(slots) >= dim {
				continue
			}
			slot = len(slots)
			slots[kmer] = slot
		}
		vec[slot]++
	}
	return vec
}

// KmerSlots returns the k-mers of seq in slot order, as Vectorize assigns
// them. It is the index for reading a vector back.
func KmerSlots(seq string, k, dim int) []string {
	if k <= 0 {
		k = DefaultK
	}
	if dim <= 0 {
		dim = DefaultDim
	}
	residues := []rune(seq)
	var out []string
	seen := make(map[string]struct{})
	for i := 0; i+k <= len(residues) && len(out) < dim; i++ {
		kmer := string(residues[i : i+k])
		if _, ok := seen[kmer]; ok {
			continue
		}
		seen[kmer] = struct{}{}
		out = append(out, kmer)
	}
	return out
}
