package ml

import "sort"

// Metrics summarises a trained model on its train and held-out test sets.
// Precision, recall and F1 treat every label except the negative one as positive.
type Metrics struct {
	TrainAccuracy   float64  `json:"train_accuracy"`
	TestAccuracy    float64  `json:"test_accuracy"`
	Precision       float64  `json:"precision"`
	Recall          float64  `json:"recall"`
	F1              float64  `json:"f1_score"`
	Labels          []string `json:"labels"`
	ConfusionMatrix [][]int  `json:"confusion_matrix"` // rows = true, cols = predicted
	TrainSize       int      `json:"train_size"`
	TestSize        int      `json:"test_size"`
}

// OverfitGap is the train-test accuracy difference.
func (m Metrics) OverfitGap() float64 {
	return m.TrainAccuracy - m.TestAccuracy
}

// Accuracy is the fraction of matching labels; 0 for empty input.
func Accuracy(yTrue, yPred []string) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// BinaryScores computes precision, recall and F1 with zero-division mapped to 0.
func BinaryScores(yTrue, yPred []string, negative string) (precision, recall, f1 float64) {
	var tp, fp, fn float64
	for i := range yTrue {
		actual := yTrue[i] != negative
		predicted := yPred[i] != negative
		switch {
		case actual && predicted:
			tp++
		case !actual && predicted:
			fp++
		case actual && !predicted:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// ConfusionMatrix counts (true, predicted) pairs over labels.
func ConfusionMatrix(yTrue, yPred, labels []string) [][]int {
	pos := make(map[string]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}
	cm := make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		t, okT := pos[yTrue[i]]
		p, okP := pos[yPred[i]]
		if okT && okP {
			cm[t][p]++
		}
	}
	return cm
}

// SortedLabels returns the distinct labels of the given sets in sorted order.
func SortedLabels(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, l := range set {
			seen[l] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
