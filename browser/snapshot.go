package browser

// snapshotScript renders the page title, URL, visible text and interactive elements as plain text
const snapshotScript = `(() => {
  const maxText = 3000;
  const maxElements = 80;
  const visible = el => {
    const r = el.getBoundingClientRect();
    const st = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
  };
  const selectorOf = el => {
    if (el.id) return '#' + CSS.escape(el.id);
    const tag = el.tagName.toLowerCase();
    const name = el.getAttribute('name');
    if (name) return tag + "[name='" + name + "']";
    const testId = el.getAttribute('data-testid');
    if (testId) return "[data-testid='" + testId + "']";
    const parts = [];
    let node = el;
    while (node && node.nodeType === 1 && parts.length < 4) {
      let part = node.tagName.toLowerCase();
      const parent = node.parentElement;
      if (parent) {
        const same = Array.from(parent.children).filter(c => c.tagName === node.tagName);
        if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')';
      }
      parts.unshift(part);
      if (node.id) { parts[0] = '#' + CSS.escape(node.id); break; }
      node = parent;
    }
    return parts.join(' > ');
  };
  const labelOf = el => (el.innerText || el.value || el.getAttribute('aria-label') ||
    el.getAttribute('placeholder') || el.getAttribute('title') || '').trim().replace(/\s+/g, ' ').slice(0, 80);

  const lines = [];
  lines.push('Title: ' + document.title);
  lines.push('URL: ' + location.href);
  lines.push('');
  lines.push('Interactive elements:');
  const els = document.querySelectorAll('a, button, input, select, textarea, [role=button], [role=link], [role=tab], [onclick]');
  let count = 0;
  for (const el of els) {
    if (count >= maxElements) break;
    if (!visible(el)) continue;
    const tag = el.tagName.toLowerCase();
    const type = el.getAttribute('type');
    lines.push('- ' + tag + (type ? '[' + type + ']' : '') + ' ' + selectorOf(el) + ' "' + labelOf(el) + '"');
    count++;
  }
  lines.push('');
  lines.push('Visible text:');
  lines.push((document.body ? document.body.innerText : '').replace(/\n{2,}/g, '\n').slice(0, maxText));
  return lines.join('\n');
})()`
