package textgrid

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Write encodes tg in the long text format.
func (tg *TextGrid) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, `File type = "ooTextFile"`)
	fmt.Fprintln(bw, `Object class = "TextGrid"`)
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "xmin = %s \n", num(tg.Start))
	fmt.Fprintf(bw, "xmax = %s \n", num(tg.End))
	if len(tg.Tiers) == 0 {
		fmt.Fprintln(bw, "tiers? <absent> ")
		return bw.Flush()
	}
	fmt.Fprintln(bw, "tiers? <exists> ")
	fmt.Fprintf(bw, "size = %d \n", len(tg.Tiers))
	fmt.Fprintln(bw, "item []: ")
	for i, t := range tg.Tiers {
		fmt.Fprintf(bw, "    item [%d]:\n", i+1)
		fmt.Fprintf(bw, "        class = %s \n", quote(t.Class))
		fmt.Fprintf(bw, "        name = %s \n", quote(t.Name))
		fmt.Fprintf(bw, "        xmin = %s \n", num(t.Start))
		fmt.Fprintf(bw, "        xmax = %s \n", num(t.End))
		if t.Class == ClassText {
			fmt.Fprintf(bw, "        points: size = %d \n", len(t.Intervals))
			for j, iv := range t.Intervals {
				fmt.Fprintf(bw, "        points [%d]:\n", j+1)
				fmt.Fprintf(bw, "            number = %s \n", num(iv.Start))
				fmt.Fprintf(bw, "            mark = %s \n", quote(iv.Mark))
			}
			continue
		}
		fmt.Fprintf(bw, "        intervals: size = %d \n", len(t.Intervals))
		for j, iv := range t.Intervals {
			fmt.Fprintf(bw, "        intervals [%d]:\n", j+1)
			fmt.Fprintf(bw, "            xmin = %s \n", num(iv.Start))
			fmt.Fprintf(bw, "            xmax = %s \n", num(iv.End))
			fmt.Fprintf(bw, "            text = %s \n", quote(iv.Mark))
		}
	}
	return bw.Flush()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
